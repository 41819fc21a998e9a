// Package memory provides in-process implementations of the repository interfaces. It backs
// the importctl dry run and the package tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	_ repository.SessionRepository      = (*Store)(nil)
	_ repository.CommittedKeyRepository = (*Store)(nil)
	_ repository.Ledger                 = (*Store)(nil)
	_ repository.ItemRepository         = (*Store)(nil)
	_ repository.BOMRepository          = (*Store)(nil)
	_ repository.ImportLogRepository    = logView{}
)

type sessionEntry struct {
	session domain.UploadSession
	records []domain.ValidatedRecord
}

type balanceKey struct {
	org       uuid.UUID
	itemCode  string
	warehouse string
}

type movementKey struct {
	session uuid.UUID
	row     int
}

// Store keeps every collaborator's state behind one mutex.
type Store struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*sessionEntry
	movements []domain.StockMovement
	byRow     map[movementKey]uuid.UUID
	balances  map[balanceKey]domain.ItemBalance
	items     map[uuid.UUID]map[string]domain.Item
	boms      map[uuid.UUID]map[string]domain.BOM
	logs      []domain.ImportLogEntry

	unavailable bool
	commitFault map[int]error
	statusFault map[domain.SessionStatus]error
	itemLookups int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		sessions:    map[uuid.UUID]*sessionEntry{},
		byRow:       map[movementKey]uuid.UUID{},
		balances:    map[balanceKey]domain.ItemBalance{},
		items:       map[uuid.UUID]map[string]domain.Item{},
		boms:        map[uuid.UUID]map[string]domain.BOM{},
		commitFault: map[int]error{},
		statusFault: map[domain.SessionStatus]error{},
	}
}

// SetUnavailable makes Ping fail until cleared.
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// FailCommit makes CommitRecord fail for the given source row.
func (s *Store) FailCommit(sourceRowNumber int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFault[sourceRowNumber] = err
}

// FailSessionWrite makes UpdateSessionStatus fail whenever it would store the given status.
// A nil err clears the fault.
func (s *Store) FailSessionWrite(status domain.SessionStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.statusFault, status)
		return
	}
	s.statusFault[status] = err
}

// Movements returns a copy of the committed ledger rows.
func (s *Store) Movements() []domain.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StockMovement(nil), s.movements...)
}

// ItemLookups counts GetByCodes calls.
func (s *Store) ItemLookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemLookups
}

// PutBOM registers a bill of materials.
func (s *Store) PutBOM(bom domain.BOM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bom.ID == uuid.Nil {
		bom.ID = uuid.New()
	}
	if s.boms[bom.OrganizationID] == nil {
		s.boms[bom.OrganizationID] = map[string]domain.BOM{}
	}
	bom.ItemCode = domain.NormalizeItemCode(bom.ItemCode)
	s.boms[bom.OrganizationID][bom.ItemCode] = bom
}

// SetBalance overwrites a running balance.
func (s *Store) SetBalance(balance domain.ItemBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[balanceKey{balance.OrganizationID, balance.ItemCode, balance.Warehouse}] = balance
}

func (s *Store) Stage(_ context.Context, session domain.UploadSession, records []domain.ValidatedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("stage session %s: already staged", session.ID)
	}
	seen := make(map[int]struct{}, len(records))
	for _, record := range records {
		if _, dup := seen[record.SourceRowNumber]; dup {
			return fmt.Errorf("stage session %s: row %d staged twice", session.ID, record.SourceRowNumber)
		}
		seen[record.SourceRowNumber] = struct{}{}
	}
	s.sessions[session.ID] = &sessionEntry{session: copySession(session), records: copyRecords(records)}
	return nil
}

func (s *Store) Load(_ context.Context, id uuid.UUID) (domain.UploadSession, []domain.ValidatedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return domain.UploadSession{}, nil, fmt.Errorf("load session %s: %w", id, domain.ErrSessionNotFound)
	}
	return copySession(entry.session), copyRecords(entry.records), nil
}

func (s *Store) List(_ context.Context, organizationID uuid.UUID, statuses []domain.SessionStatus, limit int, offset int) ([]domain.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	wanted := map[domain.SessionStatus]bool{}
	for _, status := range statuses {
		wanted[status] = true
	}

	sessions := []domain.UploadSession{}
	for _, entry := range s.sessions {
		if entry.session.OrganizationID != organizationID {
			continue
		}
		if len(wanted) > 0 && !wanted[entry.session.Status] {
			continue
		}
		sessions = append(sessions, copySession(entry.session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID.String() < sessions[j].ID.String()
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if offset >= len(sessions) {
		return []domain.UploadSession{}, nil
	}
	end := offset + limit
	if end > len(sessions) {
		end = len(sessions)
	}
	return sessions[offset:end], nil
}

func (s *Store) SaveApproval(_ context.Context, session domain.UploadSession, from domain.SessionStatus, records []domain.ValidatedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryIn(session.ID, from)
	if err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	statuses := make(map[uuid.UUID]domain.ProcessingStatus, len(records))
	for _, record := range records {
		statuses[record.ID] = record.ProcessingStatus
	}
	for i := range entry.records {
		if status, ok := statuses[entry.records[i].ID]; ok {
			entry.records[i].ProcessingStatus = status
		}
	}
	entry.session = copySession(session)
	return nil
}

func (s *Store) UpdateSessionStatus(_ context.Context, session domain.UploadSession, from domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryIn(session.ID, from)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if fault := s.statusFault[session.Status]; fault != nil {
		return fault
	}
	entry.session = copySession(session)
	return nil
}

func (s *Store) SaveRecordOutcome(_ context.Context, session domain.UploadSession, record domain.ValidatedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryIn(session.ID, domain.SessionStatusProcessing)
	if err != nil {
		return fmt.Errorf("save record outcome: %w", err)
	}
	for i := range entry.records {
		if entry.records[i].ID == record.ID {
			entry.records[i].ProcessingStatus = record.ProcessingStatus
			entry.records[i].CommitError = record.CommitError
			entry.records[i].CommittedID = record.CommittedID
			entry.session.ProcessedCount = session.ProcessedCount
			entry.session.FailedCount = session.FailedCount
			entry.session.UpdatedAt = session.UpdatedAt
			return nil
		}
	}
	return fmt.Errorf("update record %s: %w", record.ID, domain.ErrSessionNotFound)
}

// entryIn returns the session entry when its stored status is still expected.
func (s *Store) entryIn(id uuid.UUID, expected domain.SessionStatus) (*sessionEntry, error) {
	entry, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if entry.session.Status != expected {
		return nil, fmt.Errorf("session %s is %s, expected %s: %w",
			id, entry.session.Status, expected, domain.ErrInvalidStateTransition)
	}
	return entry, nil
}

func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("delete session %s: %w", id, domain.ErrSessionNotFound)
	}
	delete(s.sessions, id)
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.SessionID != id {
			kept = append(kept, entry)
		}
	}
	s.logs = kept
	return nil
}

func (s *Store) QueryExistingKeys(_ context.Context, organizationID uuid.UUID, importType domain.ImportType, keys []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, fmt.Errorf("query existing keys: %w", domain.ErrStoreUnavailable)
	}
	wanted := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		wanted[key] = struct{}{}
	}
	existing := map[string]string{}
	for _, movement := range s.movements {
		if movement.OrganizationID != organizationID || movement.ImportType != importType {
			continue
		}
		if _, ok := wanted[movement.DedupeKey]; !ok {
			continue
		}
		if _, seen := existing[movement.DedupeKey]; !seen {
			existing[movement.DedupeKey] = movement.Reference
		}
	}
	return existing, nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return fmt.Errorf("ping ledger: %w", domain.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) CommitRecord(_ context.Context, movement domain.StockMovement) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return uuid.Nil, fmt.Errorf("commit record: %w", domain.ErrStoreUnavailable)
	}
	if err := s.commitFault[movement.SourceRowNumber]; err != nil {
		return uuid.Nil, err
	}
	rowKey := movementKey{movement.SessionID, movement.SourceRowNumber}
	if id, ok := s.byRow[rowKey]; ok {
		return id, nil
	}

	key := balanceKey{movement.OrganizationID, movement.ItemCode, movement.Warehouse}
	balance, ok := s.balances[key]
	if !ok {
		balance = domain.ItemBalance{
			OrganizationID: movement.OrganizationID,
			ItemCode:       movement.ItemCode,
			Warehouse:      movement.Warehouse,
		}
	}
	next := balance.Apply(movement)
	if next.OnHand.IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: %s in %s would go negative (%s)",
			domain.ErrCommitConflict, movement.ItemCode, movement.Warehouse, next.OnHand.String())
	}
	next.UpdatedAt = time.Now().UTC()

	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	s.balances[key] = next
	s.movements = append(s.movements, movement)
	s.byRow[rowKey] = movement.ID
	return movement.ID, nil
}

func (s *Store) Balance(_ context.Context, organizationID uuid.UUID, itemCode string, warehouse string) (domain.ItemBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.balances[balanceKey{organizationID, itemCode, warehouse}]
	if !ok {
		return domain.ItemBalance{OrganizationID: organizationID, ItemCode: itemCode, Warehouse: warehouse}, nil
	}
	return balance, nil
}

func (s *Store) OnHand(_ context.Context, organizationID uuid.UUID, itemCodes []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(itemCodes))
	for _, code := range itemCodes {
		wanted[code] = struct{}{}
	}
	result := make(map[string]decimal.Decimal, len(itemCodes))
	for key, balance := range s.balances {
		if key.org != organizationID {
			continue
		}
		if _, ok := wanted[key.itemCode]; !ok {
			continue
		}
		result[key.itemCode] = result[key.itemCode].Add(balance.OnHand)
	}
	return result, nil
}

func (s *Store) GetByCodes(_ context.Context, organizationID uuid.UUID, codes []string) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemLookups++
	items := []domain.Item{}
	for _, code := range codes {
		if item, ok := s.items[organizationID][domain.NormalizeItemCode(code)]; ok {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Code < items[j].Code })
	return items, nil
}

func (s *Store) Upsert(_ context.Context, item domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Code = domain.NormalizeItemCode(item.Code)
	if item.Code == "" {
		return fmt.Errorf("upsert item: %w: empty code", domain.ErrInvalidInput)
	}
	if s.items[item.OrganizationID] == nil {
		s.items[item.OrganizationID] = map[string]domain.Item{}
	}
	s.items[item.OrganizationID][item.Code] = item
	return nil
}

func (s *Store) GetByItem(_ context.Context, organizationID uuid.UUID, itemCode string) (domain.BOM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bom, ok := s.boms[organizationID][domain.NormalizeItemCode(itemCode)]
	if !ok {
		return domain.BOM{}, fmt.Errorf("%w: no bill of materials for %s", domain.ErrInvalidInput, itemCode)
	}
	bom.Lines = append([]domain.BOMLine(nil), bom.Lines...)
	return bom, nil
}

// ImportLogs returns the store's audit log as an ImportLogRepository.
func (s *Store) ImportLogs() repository.ImportLogRepository {
	return logView{store: s}
}

type logView struct {
	store *Store
}

func (v logView) Record(_ context.Context, entry domain.ImportLogEntry) error {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	v.store.logs = append(v.store.logs, entry)
	return nil
}

func (v logView) List(_ context.Context, sessionID uuid.UUID, limit int, offset int) ([]domain.ImportLogEntry, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	entries := []domain.ImportLogEntry{}
	for i := len(v.store.logs) - 1; i >= 0; i-- {
		if v.store.logs[i].SessionID == sessionID {
			entries = append(entries, v.store.logs[i])
		}
	}
	if offset >= len(entries) {
		return []domain.ImportLogEntry{}, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

func copySession(session domain.UploadSession) domain.UploadSession {
	mapping := make(map[string]string, len(session.ColumnMapping))
	for k, v := range session.ColumnMapping {
		mapping[k] = v
	}
	session.ColumnMapping = mapping
	session.Quality.Recommendations = append([]string(nil), session.Quality.Recommendations...)
	return session
}

func copyRecords(records []domain.ValidatedRecord) []domain.ValidatedRecord {
	out := make([]domain.ValidatedRecord, len(records))
	for i, record := range records {
		values := make(map[string]string, len(record.Values))
		for k, v := range record.Values {
			values[k] = v
		}
		record.Values = values
		record.ValidationErrors = append([]string(nil), record.ValidationErrors...)
		record.ValidationWarnings = append([]string(nil), record.ValidationWarnings...)
		out[i] = record
	}
	return out
}
