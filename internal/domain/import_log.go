package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportLogEntry captures session level events and row level issues for observability.
type ImportLogEntry struct {
	ID             uuid.UUID `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Stage          string    `json:"stage"`
	RowNumber      *int      `json:"row_number,omitempty"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}
