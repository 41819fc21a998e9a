package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/staging"

	"github.com/google/uuid"
)

const defaultMaxUploadBytes = 32 << 20

// Handler exposes the import lifecycle over HTTP.
type Handler struct {
	service        *Service
	mux            *http.ServeMux
	maxUploadBytes int64
}

// HandlerOptions tune the HTTP surface. UploadMiddleware wraps only the upload route.
type HandlerOptions struct {
	MaxUploadBytes   int64
	UploadMiddleware func(http.Handler) http.Handler
}

// NewHTTPHandler routes /imports requests to the service.
func NewHTTPHandler(service *Service, opts HandlerOptions) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux(), maxUploadBytes: opts.MaxUploadBytes}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = defaultMaxUploadBytes
	}

	var upload http.Handler = http.HandlerFunc(h.handleUpload)
	if opts.UploadMiddleware != nil {
		upload = opts.UploadMiddleware(upload)
	}
	h.mux.Handle("POST /imports", upload)
	h.mux.HandleFunc("GET /imports", h.handleList)
	h.mux.HandleFunc("GET /imports/{id}", h.handleGet)
	h.mux.HandleFunc("DELETE /imports/{id}", h.handleArchive)
	h.mux.HandleFunc("POST /imports/{id}/approve", h.handleApprove)
	h.mux.HandleFunc("POST /imports/{id}/reject", h.handleReject)
	h.mux.HandleFunc("POST /imports/{id}/process", h.handleProcess)
	h.mux.HandleFunc("GET /imports/{id}/report", h.handleReport)
	h.mux.HandleFunc("GET /imports/{id}/logs", h.handleLogs)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	orgID, err := organizationFrom(r, r.FormValue("organizationId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	importType, err := domain.ParseImportType(r.FormValue("importType"))
	if err != nil {
		writeError(w, err)
		return
	}
	periodStart, err := parseDateParam("periodStart", r.FormValue("periodStart"))
	if err != nil {
		writeError(w, err)
		return
	}
	periodEnd, err := parseDateParam("periodEnd", r.FormValue("periodEnd"))
	if err != nil {
		writeError(w, err)
		return
	}

	var headerRowIndex *int
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			http.Error(w, "headerRowIndex must be a non-negative integer", http.StatusBadRequest)
			return
		}
		headerRowIndex = &idx
	}

	var overrides map[string]string
	if raw := strings.TrimSpace(r.FormValue("columnOverrides")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			http.Error(w, fmt.Sprintf("invalid columnOverrides: %v", err), http.StatusBadRequest)
			return
		}
	}

	uploadedBy := strings.TrimSpace(r.FormValue("uploadedBy"))
	if uploadedBy == "" {
		uploadedBy, _ = auth.ActorFromContext(r.Context())
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Upload(r.Context(), UploadRequest{
		OrganizationID:  orgID,
		ImportType:      importType,
		FileName:        header.Filename,
		Data:            data,
		HeaderRowIndex:  headerRowIndex,
		ColumnOverrides: overrides,
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		UploadedBy:      uploadedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orgID, err := organizationFrom(r, query.Get("organizationId"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var statuses []domain.SessionStatus
	for _, raw := range strings.Split(query.Get("status"), ",") {
		if raw = strings.ToUpper(strings.TrimSpace(raw)); raw != "" {
			statuses = append(statuses, domain.SessionStatus(raw))
		}
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	sessions, err := h.service.List(r.Context(), orgID, statuses, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Archive(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type decisionPayload struct {
	Approver string `json:"approver"`
	Notes    string `json:"notes"`
	Reason   string `json:"reason"`
}

func decodeDecision(r *http.Request) (decisionPayload, error) {
	defer r.Body.Close()
	var payload decisionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return decisionPayload{}, fmt.Errorf("%w: invalid payload: %v", domain.ErrInvalidInput, err)
	}
	return payload, nil
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	payload, err := decodeDecision(r)
	if err != nil {
		writeError(w, err)
		return
	}
	decision, err := h.service.Approve(r.Context(), id, payload.Approver, payload.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	payload, err := decodeDecision(r)
	if err != nil {
		writeError(w, err)
		return
	}
	decision, err := h.service.Reject(r.Context(), id, payload.Approver, payload.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Process(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	format, err := staging.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	session, err := h.service.Report(r.Context(), id, format, &buf)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", staging.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", staging.ReportFileName(session, format)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	logs, err := h.service.Logs(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid session id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// organizationFrom prefers an explicit organization id and falls back to the scoped one.
func organizationFrom(r *http.Request, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if id, ok := auth.OrganizationIDFromContext(r.Context()); ok {
			return id, nil
		}
		return uuid.Nil, errors.New("organizationId is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id: %v", err)
	}
	return id, nil
}

func parseDateParam(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidInput, name)
	}
	return &parsed, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrEmptyFile),
		errors.Is(err, domain.ErrRowLimitExceeded),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
