package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/warehouse-free-picking/internal/model"
	"github.com/iliyamo/warehouse-free-picking/internal/repository"
)

// The mocks mirror the MySQL repositories' contracts: the session store's
// version CAS, the ledger's lower-bound guards and the attempt store's
// unique key are all enforced under a single mutex each, so concurrency
// tests exercise the same exactly-one-winner semantics as the real store.

// Mock SessionStore
type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	now      func() time.Time
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*model.Session), now: time.Now}
}

func (m *mockSessionStore) Create(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	s.Version = 0
	s.CreatedAt = now
	s.LastActivityAt = now
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *mockSessionStore) GetByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) UpdateWithLock(ctx context.Context, id string, expectedVersion int64, mutate func(*model.Session) error) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return 0, repository.ErrSessionNotFound
	}
	if s.Version != expectedVersion {
		return 0, repository.ErrVersionMismatch
	}
	cp := *s
	if err := mutate(&cp); err != nil {
		return 0, err
	}
	cp.Version++
	cp.LastActivityAt = m.now().UTC()
	m.sessions[id] = &cp
	return cp.Version, nil
}

func (m *mockSessionStore) ListIdleSince(ctx context.Context, status string, cutoff time.Time) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.Status == status && s.LastActivityAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

func (m *mockSessionStore) CountIdleSince(ctx context.Context, status string, cutoff time.Time) (int, error) {
	list, _ := m.ListIdleSince(ctx, status, cutoff)
	return len(list), nil
}

func (m *mockSessionStore) ListActive(ctx context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		switch s.Status {
		case model.StatusScanning, model.StatusVerifying, model.StatusEmitting:
			out = append(out, *s)
		}
	}
	return out, nil
}

// setActivity rewinds a session's clock so detection thresholds trigger.
func (m *mockSessionStore) setActivity(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.LastActivityAt = at
	}
}

func (m *mockSessionStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Status
	}
	return ""
}

// Mock ItemStore
type mockItemStore struct {
	mu     sync.Mutex
	items  []model.SessionItem
	nextID uint64
}

func newMockItemStore() *mockItemStore { return &mockItemStore{} }

func (m *mockItemStore) Create(ctx context.Context, it *model.SessionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	it.ID = m.nextID
	it.ScannedAt = time.Now().UTC()
	m.items = append(m.items, *it)
	return nil
}

func (m *mockItemStore) ListBySession(ctx context.Context, sessionID string) ([]model.SessionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SessionItem
	for _, it := range m.items {
		if it.SessionID == sessionID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *mockItemStore) NetCellQuantities(ctx context.Context, sessionID string) ([]model.CellQuantity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[[2]string]int64)
	for _, it := range m.items {
		if it.SessionID == sessionID {
			sums[[2]string{it.SKU, it.Bin}] += it.Quantity
		}
	}
	var out []model.CellQuantity
	for k, qty := range sums {
		if qty > 0 {
			out = append(out, model.CellQuantity{SKU: k[0], Bin: k[1], Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SKU != out[j].SKU {
			return out[i].SKU < out[j].SKU
		}
		return out[i].Bin < out[j].Bin
	})
	return out, nil
}

func (m *mockItemStore) NetCellQuantity(ctx context.Context, sessionID, sku, bin string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, it := range m.items {
		if it.SessionID == sessionID && it.SKU == sku && it.Bin == bin {
			sum += it.Quantity
		}
	}
	return sum, nil
}

func (m *mockItemStore) Totals(ctx context.Context, sessionID string) (int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var qty int64
	var lines int
	for _, it := range m.items {
		if it.SessionID == sessionID {
			qty += it.Quantity
			lines++
		}
	}
	return qty, lines, nil
}

// Mock StockLedger
type cellKey struct{ sku, bin string }

type cellState struct{ onHand, reserved int64 }

type mockStockLedger struct {
	mu       sync.Mutex
	cells    map[cellKey]*cellState
	consumed map[string]bool
	orphaned int64
}

func newMockStockLedger() *mockStockLedger {
	return &mockStockLedger{
		cells:    make(map[cellKey]*cellState),
		consumed: make(map[string]bool),
	}
}

func (m *mockStockLedger) seed(sku, bin string, onHand int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cells[cellKey{sku, bin}] = &cellState{onHand: onHand}
}

func (m *mockStockLedger) state(sku, bin string) (onHand, reserved int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cells[cellKey{sku, bin}]
	if !ok {
		return 0, 0
	}
	return c.onHand, c.reserved
}

func (m *mockStockLedger) Reserve(ctx context.Context, sku, bin string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveLocked(sku, bin, qty)
}

func (m *mockStockLedger) reserveLocked(sku, bin string, qty int64) error {
	c, ok := m.cells[cellKey{sku, bin}]
	if !ok {
		return repository.ErrCellNotFound
	}
	if c.onHand-c.reserved < qty {
		return repository.ErrInsufficientStock
	}
	c.reserved += qty
	return nil
}

func (m *mockStockLedger) Release(ctx context.Context, sku, bin string, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(sku, bin, qty)
}

func (m *mockStockLedger) releaseLocked(sku, bin string, qty int64) error {
	c, ok := m.cells[cellKey{sku, bin}]
	if !ok {
		return repository.ErrCellNotFound
	}
	if c.reserved < qty {
		return repository.ErrOverRelease
	}
	c.reserved -= qty
	return nil
}

func (m *mockStockLedger) ConsumeCellsOnce(ctx context.Context, idempotencyKey, sessionID string, cells []model.CellQuantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumed[idempotencyKey] {
		return nil
	}
	for _, cq := range cells {
		c, ok := m.cells[cellKey{cq.SKU, cq.Bin}]
		if !ok {
			return repository.ErrCellNotFound
		}
		if c.reserved < cq.Quantity {
			return repository.ErrOverConsumption
		}
	}
	for _, cq := range cells {
		c := m.cells[cellKey{cq.SKU, cq.Bin}]
		c.reserved -= cq.Quantity
		c.onHand -= cq.Quantity
	}
	m.consumed[idempotencyKey] = true
	return nil
}

func (m *mockStockLedger) ReleaseCells(ctx context.Context, cells []model.CellQuantity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cq := range cells {
		if err := m.releaseLocked(cq.SKU, cq.Bin, cq.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockStockLedger) PickBin(ctx context.Context, sku string, qty int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var bins []string
	for k, c := range m.cells {
		if k.sku == sku && c.onHand-c.reserved >= qty {
			bins = append(bins, k.bin)
		}
	}
	if len(bins) == 0 {
		return "", repository.ErrInsufficientStock
	}
	sort.Strings(bins)
	return bins[0], nil
}

func (m *mockStockLedger) OrphanedReserved(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orphaned, nil
}

// Mock AttemptStore
type mockAttemptStore struct {
	mu    sync.Mutex
	byKey map[string]*model.EmissionAttempt
	order []string
	now   func() time.Time
}

func newMockAttemptStore() *mockAttemptStore {
	return &mockAttemptStore{byKey: make(map[string]*model.EmissionAttempt), now: time.Now}
}

func (m *mockAttemptStore) CreatePending(ctx context.Context, a *model.EmissionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[a.IdempotencyKey]; exists {
		return repository.ErrDuplicateAttempt
	}
	a.Status = model.AttemptPending
	a.CreatedAt = m.now().UTC()
	cp := *a
	m.byKey[a.IdempotencyKey] = &cp
	m.order = append(m.order, a.IdempotencyKey)
	return nil
}

func (m *mockAttemptStore) MarkCompleted(ctx context.Context, idempotencyKey, responsePayload string) error {
	return m.mark(idempotencyKey, model.AttemptCompleted, &responsePayload, nil)
}

func (m *mockAttemptStore) MarkFailed(ctx context.Context, idempotencyKey, errorMessage string) error {
	return m.mark(idempotencyKey, model.AttemptFailed, nil, &errorMessage)
}

func (m *mockAttemptStore) mark(key, status string, response, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[key]
	if !ok || a.Status != model.AttemptPending {
		return repository.ErrAttemptNotFound
	}
	a.Status = status
	a.ResponsePayload = response
	a.ErrorMessage = errMsg
	done := m.now().UTC()
	a.CompletedAt = &done
	return nil
}

func (m *mockAttemptStore) GetByKey(ctx context.Context, idempotencyKey string) (*model.EmissionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byKey[idempotencyKey]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAttemptStore) LatestCompleted(ctx context.Context, sessionID string, window time.Duration) (*model.EmissionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().UTC().Add(-window)
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.byKey[m.order[i]]
		if a.SessionID == sessionID && a.Status == model.AttemptCompleted &&
			a.CompletedAt != nil && a.CompletedAt.After(cutoff) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAttemptNotFound
}

func (m *mockAttemptStore) AnyCompleted(ctx context.Context, sessionID string) (*model.EmissionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.byKey[m.order[i]]
		if a.SessionID == sessionID && a.Status == model.AttemptCompleted {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAttemptNotFound
}

func (m *mockAttemptStore) LatestPending(ctx context.Context, sessionID string) (*model.EmissionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		a := m.byKey[m.order[i]]
		if a.SessionID == sessionID && a.Status == model.AttemptPending {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrAttemptNotFound
}

func (m *mockAttemptStore) FailureRateSince(ctx context.Context, cutoff time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed, total int
	for _, a := range m.byKey {
		if a.Status == model.AttemptPending || a.CompletedAt == nil || !a.CompletedAt.After(cutoff) {
			continue
		}
		total++
		if a.Status == model.AttemptFailed {
			failed++
		}
	}
	return failed, total, nil
}

// Mock ReplayCache
type mockReplayCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMockReplayCache() *mockReplayCache {
	return &mockReplayCache{entries: make(map[string]string)}
}

func (m *mockReplayCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *mockReplayCache) Put(ctx context.Context, key, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = payload
}

// Mock AuditStore + TrailPublisher
type mockAuditTrail struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func newMockAuditTrail() *mockAuditTrail { return &mockAuditTrail{} }

func (m *mockAuditTrail) Append(ctx context.Context, ev *model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockAuditTrail) Publish(ctx context.Context, ev model.AuditEvent) error { return nil }

func (m *mockAuditTrail) countType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

// Mock DocumentEmitter
type mockEmitter struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func newMockEmitter() *mockEmitter { return &mockEmitter{} }

func (m *mockEmitter) Emit(ctx context.Context, req EmissionRequest) (*EmissionResponse, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	fail := m.fail
	m.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("collaborator rejected request")
	}
	return &EmissionResponse{
		DocumentID:  fmt.Sprintf("doc-%s-%d", req.SessionID, n),
		DocumentURL: fmt.Sprintf("https://documents.local/doc-%s-%d", req.SessionID, n),
	}, nil
}

func (m *mockEmitter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// engine bundles one fully wired service stack over the mocks.
type engine struct {
	sessions *mockSessionStore
	items    *mockItemStore
	stock    *mockStockLedger
	attempts *mockAttemptStore
	cache    *mockReplayCache
	trail    *mockAuditTrail
	emitter  *mockEmitter

	picking  *PickingService
	finalize *FinalizeService
	zombies  *ZombieService
	health   *HealthService
}

func newEngine() *engine {
	e := &engine{
		sessions: newMockSessionStore(),
		items:    newMockItemStore(),
		stock:    newMockStockLedger(),
		attempts: newMockAttemptStore(),
		cache:    newMockReplayCache(),
		trail:    newMockAuditTrail(),
		emitter:  newMockEmitter(),
	}
	auditor := NewAuditor(e.trail, e.trail)
	e.picking = NewPickingService(e.sessions, e.items, e.stock, auditor)
	e.finalize = NewFinalizeService(e.sessions, e.items, e.stock, e.attempts, e.cache, e.emitter, auditor)
	e.zombies = NewZombieService(e.sessions, e.items, e.stock, e.attempts, e.finalize, auditor, DefaultThresholds(), 10*time.Minute)
	e.health = NewHealthService(e.sessions, e.items, e.stock, e.attempts, e.zombies, auditor, DefaultThresholds())
	return e
}
