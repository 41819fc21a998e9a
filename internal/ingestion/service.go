package ingestion

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/approval"
	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/commit"
	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/duplicates"
	"github.com/rpattn/stockimport/internal/masterdata"
	"github.com/rpattn/stockimport/internal/metrics"
	"github.com/rpattn/stockimport/internal/quality"
	"github.com/rpattn/stockimport/internal/repository"
	"github.com/rpattn/stockimport/internal/staging"
	"github.com/rpattn/stockimport/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service runs uploads through the import pipeline and exposes the review lifecycle.
type Service struct {
	parser    *Parser
	validator *validation.Validator
	detector  *duplicates.Detector
	scorer    *quality.Scorer
	staging   *staging.Store
	gate      *approval.Gate
	processor *commit.Processor
	items     repository.ItemRepository
	metrics   *metrics.Pipeline
	logger    *zap.Logger
	now       func() time.Time
}

// Dependencies wires the pipeline stages into a Service.
type Dependencies struct {
	Parser    *Parser
	Validator *validation.Validator
	Detector  *duplicates.Detector
	Scorer    *quality.Scorer
	Staging   *staging.Store
	Gate      *approval.Gate
	Processor *commit.Processor
	Items     repository.ItemRepository
	Metrics   *metrics.Pipeline
	Logger    *zap.Logger
}

// NewService creates a new pipeline service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		parser:    deps.Parser,
		validator: deps.Validator,
		detector:  deps.Detector,
		scorer:    deps.Scorer,
		staging:   deps.Staging,
		gate:      deps.Gate,
		processor: deps.Processor,
		items:     deps.Items,
		metrics:   deps.Metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UploadRequest describes one uploaded file.
type UploadRequest struct {
	OrganizationID  uuid.UUID
	ImportType      domain.ImportType
	FileName        string
	Data            []byte
	HeaderRowIndex  *int
	ColumnOverrides map[string]string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	UploadedBy      string
}

// UploadSummary is returned once an upload has been staged for review.
type UploadSummary struct {
	Session        domain.UploadSession `json:"session"`
	Headers        []string             `json:"headers"`
	UnmappedFields []string             `json:"unmapped_headers"`
	DuplicateKeys  []string             `json:"duplicate_keys"`
}

// SessionDetail is a session together with its staged records.
type SessionDetail struct {
	Session domain.UploadSession     `json:"session"`
	Records []domain.ValidatedRecord `json:"records"`
}

// Upload parses, validates, checks for duplicates and scores a file, then stages the result.
// A file that cannot be read creates no session.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadSummary, error) {
	if err := auth.EnforceOrganizationScope(ctx, req.OrganizationID); err != nil {
		return UploadSummary{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.ImportType == "" {
		return UploadSummary{}, fmt.Errorf("%w: importType is required", domain.ErrInvalidInput)
	}
	if req.PeriodStart != nil && req.PeriodEnd != nil && req.PeriodEnd.Before(*req.PeriodStart) {
		return UploadSummary{}, fmt.Errorf("%w: periodEnd is before periodStart", domain.ErrInvalidInput)
	}
	importType := string(req.ImportType)

	started := time.Now()
	parsed, err := s.parser.Parse(ParseRequest{
		FileName:        req.FileName,
		Data:            req.Data,
		HeaderRowIndex:  req.HeaderRowIndex,
		ColumnOverrides: req.ColumnOverrides,
	})
	if err != nil {
		s.metrics.ObserveUpload(importType, "rejected")
		s.logger.Info("upload rejected",
			zap.String("file_name", req.FileName),
			zap.String("import_type", importType),
			zap.Error(err))
		return UploadSummary{}, err
	}
	s.metrics.ObserveStage("parse", time.Since(started))

	session := domain.NewUploadSession(req.OrganizationID, req.FileName, req.ImportType, s.now())
	session.PeriodStart = req.PeriodStart
	session.PeriodEnd = req.PeriodEnd
	session.UploadedBy = strings.TrimSpace(req.UploadedBy)
	session.ColumnMapping = parsed.Mapping.ByHeader
	if err := session.Transition(domain.SessionStatusValidating, s.now()); err != nil {
		return UploadSummary{}, err
	}

	started = time.Now()
	loader := masterdata.NewItemLoader(s.items, req.OrganizationID)
	records, err := s.validator.ValidateAll(ctx, session, parsed.Rows, loader)
	if err != nil {
		s.metrics.ObserveUpload(importType, "failed")
		return UploadSummary{}, err
	}
	s.metrics.ObserveStage("validate", time.Since(started))

	started = time.Now()
	index, err := s.detector.Detect(ctx, session, records)
	if err != nil {
		s.metrics.ObserveUpload(importType, "failed")
		return UploadSummary{}, err
	}
	s.metrics.ObserveStage("duplicates", time.Since(started))

	required := s.validator.RuleSet(session, validation.Lookups{}).RequiredFields()
	session.Quality = s.scorer.Score(records, required)

	staged, err := s.staging.Stage(ctx, session, records)
	if err != nil {
		s.metrics.ObserveUpload(importType, "failed")
		return UploadSummary{}, err
	}

	s.metrics.ObserveUpload(importType, "staged")
	s.metrics.ObserveTransition(string(staged.Status))
	s.metrics.AddRows(importType, string(domain.ValidationStatusValid), staged.ValidCount-staged.WarningCount)
	s.metrics.AddRows(importType, string(domain.ValidationStatusWarning), staged.WarningCount)
	s.metrics.AddRows(importType, string(domain.ValidationStatusInvalid), staged.InvalidCount)

	return UploadSummary{
		Session:        staged,
		Headers:        parsed.Headers,
		UnmappedFields: nonNil(parsed.Mapping.Unmapped),
		DuplicateKeys:  index.Keys(),
	}, nil
}

// Get returns a session and its records.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (SessionDetail, error) {
	session, records, err := s.staging.Load(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	if err := authorize(ctx, session); err != nil {
		return SessionDetail{}, err
	}
	if records == nil {
		records = []domain.ValidatedRecord{}
	}
	return SessionDetail{Session: session, Records: records}, nil
}

// List returns an organization's sessions, newest first.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, statuses []domain.SessionStatus, limit, offset int) ([]domain.UploadSession, error) {
	if err := auth.EnforceOrganizationScope(ctx, organizationID); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	sessions, err := s.staging.List(ctx, organizationID, statuses, limit, offset)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []domain.UploadSession{}
	}
	return sessions, nil
}

func (s *Service) Approve(ctx context.Context, id uuid.UUID, approver, notes string) (approval.Decision, error) {
	if err := s.authorizeID(ctx, id); err != nil {
		return approval.Decision{}, err
	}
	decision, err := s.gate.Approve(ctx, id, actorOr(ctx, approver), notes)
	if err == nil {
		s.metrics.ObserveTransition(string(decision.Session.Status))
	}
	return decision, err
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, approver, reason string) (approval.Decision, error) {
	if err := s.authorizeID(ctx, id); err != nil {
		return approval.Decision{}, err
	}
	decision, err := s.gate.Reject(ctx, id, actorOr(ctx, approver), reason)
	if err == nil {
		s.metrics.ObserveTransition(string(decision.Session.Status))
	}
	return decision, err
}

// Process commits an approved session.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (domain.CommitSummary, error) {
	if err := s.authorizeID(ctx, id); err != nil {
		return domain.CommitSummary{}, err
	}
	return s.processor.Process(ctx, id)
}

// Report writes the validation report of a session in the given format.
func (s *Service) Report(ctx context.Context, id uuid.UUID, format string, w io.Writer) (domain.UploadSession, error) {
	if err := s.authorizeID(ctx, id); err != nil {
		return domain.UploadSession{}, err
	}
	return s.staging.ExportReport(ctx, id, format, w)
}

func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	if err := s.authorizeID(ctx, id); err != nil {
		return err
	}
	return s.staging.Archive(ctx, id)
}

func (s *Service) Logs(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.ImportLogEntry, error) {
	if err := s.authorizeID(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.staging.Logs(ctx, id, limit, offset)
}

func (s *Service) authorizeID(ctx context.Context, id uuid.UUID) error {
	if _, ok := auth.OrganizationIDFromContext(ctx); !ok {
		return nil
	}
	session, _, err := s.staging.Load(ctx, id)
	if err != nil {
		return err
	}
	return authorize(ctx, session)
}

// authorize hides sessions of other organizations behind ErrSessionNotFound.
func authorize(ctx context.Context, session domain.UploadSession) error {
	if err := auth.EnforceOrganizationScope(ctx, session.OrganizationID); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}
	return nil
}

func actorOr(ctx context.Context, explicit string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed
	}
	actor, _ := auth.ActorFromContext(ctx)
	return actor
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
