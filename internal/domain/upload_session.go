package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportType is the domain category of an upload.
type ImportType string

const (
	ImportTypeOpeningStock ImportType = "OPENING_STOCK"
	ImportTypeGRN          ImportType = "GRN"
	ImportTypePurchase     ImportType = "PURCHASE"
	ImportTypeSales        ImportType = "SALES"
)

// ParseImportType normalises user supplied import type names.
func ParseImportType(value string) (ImportType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch ImportType(normalized) {
	case ImportTypeOpeningStock, ImportTypeGRN, ImportTypePurchase, ImportTypeSales:
		return ImportType(normalized), nil
	case "STOCK", "OPENING":
		return ImportTypeOpeningStock, nil
	case "RECEIPT", "GOODS_RECEIPT":
		return ImportTypeGRN, nil
	}
	return "", fmt.Errorf("%w: unknown import type %q", ErrInvalidInput, value)
}

// Inbound reports whether committed records increase stock.
func (t ImportType) Inbound() bool {
	return t != ImportTypeSales
}

// SessionStatus captures lifecycle state for an upload session.
type SessionStatus string

const (
	SessionStatusUploading  SessionStatus = "UPLOADING"
	SessionStatusValidating SessionStatus = "VALIDATING"
	SessionStatusStaged     SessionStatus = "STAGED"
	SessionStatusApproved   SessionStatus = "APPROVED"
	SessionStatusRejected   SessionStatus = "REJECTED"
	SessionStatusProcessing SessionStatus = "PROCESSING"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusFailed     SessionStatus = "FAILED"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusUploading:  {SessionStatusValidating},
	SessionStatusValidating: {SessionStatusStaged},
	SessionStatusStaged:     {SessionStatusApproved, SessionStatusRejected},
	SessionStatusApproved:   {SessionStatusProcessing},
	// PROCESSING -> PROCESSING resumes a commit interrupted before it reached a terminal write.
	SessionStatusProcessing: {SessionStatusCompleted, SessionStatusProcessing},
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusRejected
}

// CanTransition reports whether a session may move from one status to another. FAILED is
// reachable from every non-terminal state; a failed session that was approved may be retried.
func CanTransition(from, to SessionStatus) bool {
	if to == SessionStatusFailed {
		return !from.Terminal() && from != SessionStatusFailed
	}
	for _, allowed := range sessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UploadSession is the aggregate root of an import. It exclusively owns its records.
type UploadSession struct {
	ID             uuid.UUID         `json:"id"`
	OrganizationID uuid.UUID         `json:"organization_id"`
	FileName       string            `json:"file_name"`
	ImportType     ImportType        `json:"import_type"`
	PeriodStart    *time.Time        `json:"period_start,omitempty"`
	PeriodEnd      *time.Time        `json:"period_end,omitempty"`
	Status         SessionStatus     `json:"status"`
	TotalRows      int               `json:"total_rows"`
	ValidCount     int               `json:"valid_count"`
	WarningCount   int               `json:"warning_count"`
	InvalidCount   int               `json:"invalid_count"`
	DuplicateCount int               `json:"duplicate_count"`
	ColumnMapping  map[string]string `json:"column_mapping"`
	Quality        QualityMetrics    `json:"quality"`
	UploadedBy     string            `json:"uploaded_by,omitempty"`
	ApprovedBy     string            `json:"approved_by,omitempty"`
	ApprovalNotes  string            `json:"approval_notes,omitempty"`
	ApprovedAt     *time.Time        `json:"approved_at,omitempty"`
	RejectedReason string            `json:"rejected_reason,omitempty"`
	ProcessedCount int               `json:"processed_count"`
	FailedCount    int               `json:"failed_count"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// NewUploadSession creates a session in the UPLOADING state.
func NewUploadSession(organizationID uuid.UUID, fileName string, importType ImportType, now time.Time) UploadSession {
	return UploadSession{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		FileName:       fileName,
		ImportType:     importType,
		Status:         SessionStatusUploading,
		ColumnMapping:  map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Transition moves the session to the next status or fails leaving it untouched.
func (s *UploadSession) Transition(to SessionStatus, now time.Time) error {
	from := s.Status
	if from == SessionStatusFailed && to == SessionStatusProcessing && s.ApprovedAt != nil {
		s.Status = to
		s.ErrorMessage = ""
		s.UpdatedAt = now
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	s.Status = to
	s.UpdatedAt = now
	if to == SessionStatusCompleted {
		completed := now
		s.CompletedAt = &completed
	}
	return nil
}

// Fail moves the session to FAILED recording the cause.
func (s *UploadSession) Fail(cause error, now time.Time) error {
	if err := s.Transition(SessionStatusFailed, now); err != nil {
		return err
	}
	if cause != nil {
		s.ErrorMessage = cause.Error()
	}
	return nil
}

// SessionCounts are the denormalised summary counts of a session.
type SessionCounts struct {
	TotalRows      int
	ValidCount     int
	WarningCount   int
	InvalidCount   int
	DuplicateCount int
	ProcessedCount int
	FailedCount    int
}

// CountRecords recounts a record set. Valid counts every record without errors.
func CountRecords(records []ValidatedRecord) SessionCounts {
	counts := SessionCounts{TotalRows: len(records)}
	for _, record := range records {
		switch record.ValidationStatus {
		case ValidationStatusInvalid:
			counts.InvalidCount++
		case ValidationStatusWarning:
			counts.ValidCount++
			counts.WarningCount++
		default:
			counts.ValidCount++
		}
		if record.IsDuplicate {
			counts.DuplicateCount++
		}
		switch record.ProcessingStatus {
		case ProcessingStatusProcessed:
			counts.ProcessedCount++
		case ProcessingStatusFailed:
			counts.FailedCount++
		}
	}
	return counts
}

// Counts returns the session's denormalised counts.
func (s UploadSession) Counts() SessionCounts {
	return SessionCounts{
		TotalRows:      s.TotalRows,
		ValidCount:     s.ValidCount,
		WarningCount:   s.WarningCount,
		InvalidCount:   s.InvalidCount,
		DuplicateCount: s.DuplicateCount,
		ProcessedCount: s.ProcessedCount,
		FailedCount:    s.FailedCount,
	}
}

// Recount refreshes the denormalised counts from the record set.
func (s *UploadSession) Recount(records []ValidatedRecord) {
	counts := CountRecords(records)
	s.TotalRows = counts.TotalRows
	s.ValidCount = counts.ValidCount
	s.WarningCount = counts.WarningCount
	s.InvalidCount = counts.InvalidCount
	s.DuplicateCount = counts.DuplicateCount
	s.ProcessedCount = counts.ProcessedCount
	s.FailedCount = counts.FailedCount
}

// WithinPeriod reports whether t falls in the session period. Open bounds always match.
func (s UploadSession) WithinPeriod(t time.Time) bool {
	if s.PeriodStart != nil && t.Before(*s.PeriodStart) {
		return false
	}
	if s.PeriodEnd != nil && t.After(*s.PeriodEnd) {
		return false
	}
	return true
}

// QualityMetrics are derived from a session's records and never stored independently
// of them.
type QualityMetrics struct {
	RecordCount       int      `json:"record_count"`
	CompletenessScore float64  `json:"completeness_score"`
	AccuracyScore     float64  `json:"accuracy_score"`
	ConsistencyScore  float64  `json:"consistency_score"`
	ValidityScore     float64  `json:"validity_score"`
	OverallScore      int      `json:"overall_score"`
	Recommendations   []string `json:"recommendations"`
}

// CommitFailure describes a record that could not be applied.
type CommitFailure struct {
	SourceRowNumber int    `json:"source_row_number"`
	Reason          string `json:"reason"`
}

// CommitSummary is reported to the user once a session has been processed.
type CommitSummary struct {
	SessionID      uuid.UUID       `json:"session_id"`
	Status         SessionStatus   `json:"status"`
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	SkippedCount   int             `json:"skipped_count"`
	Failures       []CommitFailure `json:"failures"`
}

// SummarizeCommit rebuilds a commit summary from persisted record state.
func SummarizeCommit(session UploadSession, records []ValidatedRecord) CommitSummary {
	summary := CommitSummary{
		SessionID: session.ID,
		Status:    session.Status,
		Failures:  []CommitFailure{},
	}
	for _, record := range records {
		switch record.ProcessingStatus {
		case ProcessingStatusProcessed:
			summary.ProcessedCount++
		case ProcessingStatusFailed:
			summary.FailedCount++
			summary.Failures = append(summary.Failures, CommitFailure{
				SourceRowNumber: record.SourceRowNumber,
				Reason:          record.CommitError,
			})
		default:
			summary.SkippedCount++
		}
	}
	return summary
}
