package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Logical field names shared by the parser, validator and exports.
const (
	FieldDocumentNumber = "documentNumber"
	FieldItemCode       = "itemCode"
	FieldItemName       = "itemName"
	FieldQuantity       = "quantity"
	FieldUnitRate       = "unitRate"
	FieldAmount         = "amount"
	FieldDate           = "date"
	FieldWarehouse      = "warehouse"
	FieldUnit           = "unit"
	FieldPartyName      = "partyName"
	FieldBatchNumber    = "batchNumber"
)

// LogicalFields lists every logical field in display order.
var LogicalFields = []string{
	FieldDocumentNumber,
	FieldItemCode,
	FieldItemName,
	FieldQuantity,
	FieldUnitRate,
	FieldAmount,
	FieldDate,
	FieldWarehouse,
	FieldUnit,
	FieldPartyName,
	FieldBatchNumber,
}

// ValidationStatus summarises the validator outcome for a record.
type ValidationStatus string

const (
	ValidationStatusValid   ValidationStatus = "valid"
	ValidationStatusInvalid ValidationStatus = "invalid"
	ValidationStatusWarning ValidationStatus = "warning"
)

// ProcessingStatus tracks a record through approval and commit.
type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "pending"
	ProcessingStatusApproved  ProcessingStatus = "approved"
	ProcessingStatusProcessed ProcessingStatus = "processed"
	ProcessingStatusRejected  ProcessingStatus = "rejected"
	ProcessingStatusFailed    ProcessingStatus = "failed"
)

// RecordFields holds the typed values coerced from a raw row.
type RecordFields struct {
	DocumentNumber string          `json:"document_number,omitempty"`
	ItemCode       string          `json:"item_code,omitempty"`
	ItemName       string          `json:"item_name,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	Amount         decimal.Decimal `json:"amount"`
	Date           time.Time       `json:"date,omitempty"`
	Warehouse      string          `json:"warehouse,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	PartyName      string          `json:"party_name,omitempty"`
	BatchNumber    string          `json:"batch_number,omitempty"`
}

// ValidatedRecord is a staged row with its validation outcome.
type ValidatedRecord struct {
	ID                 uuid.UUID         `json:"id"`
	SessionID          uuid.UUID         `json:"session_id"`
	SourceRowNumber    int               `json:"source_row_number"`
	Values             map[string]string `json:"values"`
	Fields             RecordFields      `json:"fields"`
	ValidationStatus   ValidationStatus  `json:"validation_status"`
	ValidationErrors   []string          `json:"validation_errors"`
	ValidationWarnings []string          `json:"validation_warnings"`
	IsDuplicate        bool              `json:"is_duplicate"`
	DuplicateReason    string            `json:"duplicate_reason,omitempty"`
	ProcessingStatus   ProcessingStatus  `json:"processing_status"`
	CommitError        string            `json:"commit_error,omitempty"`
	CommittedID        *uuid.UUID        `json:"committed_id,omitempty"`
}

// ResolveStatus derives the validation status from the error and warning lists.
func (r *ValidatedRecord) ResolveStatus() ValidationStatus {
	switch {
	case len(r.ValidationErrors) > 0:
		r.ValidationStatus = ValidationStatusInvalid
	case len(r.ValidationWarnings) > 0:
		r.ValidationStatus = ValidationStatusWarning
	default:
		r.ValidationStatus = ValidationStatusValid
	}
	return r.ValidationStatus
}

// MarkDuplicate flags the record as a duplicate. The first reason sticks.
func (r *ValidatedRecord) MarkDuplicate(reason string) {
	if r.IsDuplicate {
		return
	}
	r.IsDuplicate = true
	r.DuplicateReason = reason
}

// Committable reports whether the record may be approved for commit.
func (r ValidatedRecord) Committable() bool {
	return r.ValidationStatus != ValidationStatusInvalid && !r.IsDuplicate
}

// Value returns the normalised source text for a logical field.
func (r ValidatedRecord) Value(field string) string {
	if r.Values == nil {
		return ""
	}
	return r.Values[field]
}
