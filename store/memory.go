/*
Package store provides the in-memory implementation of every persistence
interface in the engine.

PURPOSE:
  One Memory struct backs all components (bookings, waitlist entries,
  grants, classes, products, members, purchases, payments, review queue)
  so domain tests and dev mode run without a real datastore. The SQLite
  implementation in store/sqlite mirrors the same interfaces for
  persistent deployments.

LOCKING:
  Three keyed lock domains implement the engine's critical sections:
  - class locks   (capacity check + booking insert)
  - queue locks   (waitlist position assignment and renumbering)
  - member locks  (multi-grant credit debits)
  A plain RWMutex guards the maps themselves. Lock ordering is always
  class -> member; queue locks never nest with class locks (the engine
  guarantees it), so the domains cannot deadlock.
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/waitlist"
)

// =============================================================================
// KEYED MUTEX
// =============================================================================

// keyedMutex serializes callers per key (class id, member id).
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m
}

func (k *keyedMutex) with(key string, fn func() error) error {
	m := k.lock(key)
	defer m.Unlock()
	return fn()
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements every store interface in the engine.
type Memory struct {
	mu sync.RWMutex

	classes     map[string]registry.Class
	classPrices map[string]int
	members     map[string]catalog.Member
	products    map[string]catalog.Product
	bookings    map[string]booking.Booking
	entries     map[string]waitlist.Entry
	grants      map[ledger.GrantID]ledger.CreditGrant
	purchases   map[string]purchase.PendingPurchase
	payments    map[string]purchase.Payment // keyed by external tx id
	unresolved  map[string]purchase.UnresolvedEvent

	classLocks  *keyedMutex
	queueLocks  *keyedMutex
	memberLocks *keyedMutex
}

func NewMemory() *Memory {
	return &Memory{
		classes:     make(map[string]registry.Class),
		classPrices: make(map[string]int),
		members:     make(map[string]catalog.Member),
		products:    make(map[string]catalog.Product),
		bookings:    make(map[string]booking.Booking),
		entries:     make(map[string]waitlist.Entry),
		grants:      make(map[ledger.GrantID]ledger.CreditGrant),
		purchases:   make(map[string]purchase.PendingPurchase),
		payments:    make(map[string]purchase.Payment),
		unresolved:  make(map[string]purchase.UnresolvedEvent),
		classLocks:  newKeyedMutex(),
		queueLocks:  newKeyedMutex(),
		memberLocks: newKeyedMutex(),
	}
}

// =============================================================================
// LOCK DOMAINS
// =============================================================================

func (m *Memory) WithClassLock(_ context.Context, classID string, fn func() error) error {
	return m.classLocks.with(classID, fn)
}

func (m *Memory) WithQueueLock(_ context.Context, classID string, fn func() error) error {
	return m.queueLocks.with(classID, fn)
}

func (m *Memory) WithMemberLock(_ context.Context, memberID string, fn func() error) error {
	return m.memberLocks.with(memberID, fn)
}

// =============================================================================
// CLASS STORE
// =============================================================================

func (m *Memory) SaveClass(_ context.Context, c registry.Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes[c.ID] = c
	return nil
}

func (m *Memory) GetClass(_ context.Context, id string) (*registry.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.classes[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListClasses(_ context.Context) ([]registry.Class, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]registry.Class, 0, len(m.classes))
	for _, c := range m.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// =============================================================================
// PRICE STORE
// =============================================================================

func (m *Memory) SetClassPrice(_ context.Context, classID string, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classPrices[classID] = credits
	return nil
}

func (m *Memory) ClassPrice(_ context.Context, classID string) (int, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	credits, ok := m.classPrices[classID]
	return credits, ok, nil
}

// =============================================================================
// MEMBER / PRODUCT STORES
// =============================================================================

func (m *Memory) SaveMember(_ context.Context, mem catalog.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[mem.ID] = mem
	return nil
}

func (m *Memory) GetMember(_ context.Context, id string) (*catalog.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, catalog.ErrMemberNotFound
	}
	return &mem, nil
}

func (m *Memory) MemberByEmail(_ context.Context, email string) (*catalog.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mem := range m.members {
		if mem.Email == email {
			return &mem, nil
		}
	}
	return nil, catalog.ErrMemberNotFound
}

func (m *Memory) SaveProduct(_ context.Context, p catalog.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return &p, nil
}

func (m *Memory) ProductByLinkID(_ context.Context, linkID string) (*catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.products {
		if p.LinkID == linkID {
			return &p, nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (m *Memory) ProductByPrice(_ context.Context, price decimal.Decimal) (*catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic pick when prices collide
	for _, id := range ids {
		p := m.products[id]
		if p.Price.Equal(price) {
			return &p, nil
		}
	}
	return nil, catalog.ErrProductNotFound
}

func (m *Memory) ListProducts(_ context.Context) ([]catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// BOOKING STORE
// =============================================================================

func (m *Memory) CreateBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) UpdateBooking(_ context.Context, b booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return booking.ErrBookingNotFound
	}
	m.bookings[b.ID] = b
	return nil
}

func (m *Memory) BookingsByClass(_ context.Context, classID string, status booking.Status) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.ClassID == classID && b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) BookingsByMember(_ context.Context, memberID string) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.MemberID == memberID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ActiveBookingFor(_ context.Context, classID, memberID string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.ClassID == classID && b.MemberID == memberID && b.Status == booking.StatusConfirmed {
			return &b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ConfirmedSeatCount(_ context.Context, classID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, b := range m.bookings {
		if b.ClassID == classID && b.Status == booking.StatusConfirmed {
			count++
		}
	}
	return count, nil
}

// HasConfirmedBooking implements waitlist.BookingGuard.
func (m *Memory) HasConfirmedBooking(ctx context.Context, classID, memberID string) (bool, error) {
	b, err := m.ActiveBookingFor(ctx, classID, memberID)
	return b != nil, err
}

// =============================================================================
// WAITLIST ENTRY STORE
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e waitlist.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) UpdateEntry(_ context.Context, e waitlist.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ID]; !ok {
		return waitlist.ErrEntryNotFound
	}
	m.entries[e.ID] = e
	return nil
}

func (m *Memory) RemoveEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return waitlist.ErrEntryNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) EntriesByClass(_ context.Context, classID string) ([]waitlist.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []waitlist.Entry
	for _, e := range m.entries {
		if e.ClassID == classID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) EntryFor(_ context.Context, classID, memberID string) (*waitlist.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.ClassID == classID && e.MemberID == memberID {
			return &e, nil
		}
	}
	return nil, nil
}

// =============================================================================
// GRANT STORE
// =============================================================================

// copyGrant deep-copies the pointer fields so callers can't mutate store
// state outside UpdateGrant.
func copyGrant(g ledger.CreditGrant) ledger.CreditGrant {
	if g.CreditsTotal != nil {
		total := *g.CreditsTotal
		g.CreditsTotal = &total
	}
	if g.CreditsRemaining != nil {
		remaining := *g.CreditsRemaining
		g.CreditsRemaining = &remaining
	}
	if g.ExpiresAt != nil {
		exp := *g.ExpiresAt
		g.ExpiresAt = &exp
	}
	return g
}

func (m *Memory) CreateGrant(_ context.Context, g ledger.CreditGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[g.ID] = copyGrant(g)
	return nil
}

func (m *Memory) GetGrant(_ context.Context, id ledger.GrantID) (*ledger.CreditGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, nil
	}
	out := copyGrant(g)
	return &out, nil
}

func (m *Memory) GrantsByMember(_ context.Context, memberID string) ([]ledger.CreditGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.CreditGrant
	for _, g := range m.grants {
		if g.MemberID == memberID {
			out = append(out, copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateGrant(_ context.Context, g ledger.CreditGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[g.ID]; !ok {
		return ledger.ErrGrantNotFound
	}
	m.grants[g.ID] = copyGrant(g)
	return nil
}

func (m *Memory) ExpireGrants(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, g := range m.grants {
		if g.Active && g.ExpiresAt != nil && g.ExpiresAt.Before(now) {
			g.Active = false
			m.grants[id] = g
			count++
		}
	}
	return count, nil
}

// =============================================================================
// PURCHASE / PAYMENT / REVIEW QUEUE STORES
// =============================================================================

func (m *Memory) CreatePurchase(_ context.Context, p purchase.PendingPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases[p.ID] = p
	return nil
}

func (m *Memory) GetPurchase(_ context.Context, id string) (*purchase.PendingPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpdatePurchase(_ context.Context, p purchase.PendingPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[p.ID]; !ok {
		return purchase.ErrPurchaseNotFound
	}
	m.purchases[p.ID] = p
	return nil
}

func (m *Memory) PurchasesByMember(_ context.Context, memberID string) ([]purchase.PendingPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []purchase.PendingPurchase
	for _, p := range m.purchases {
		if p.MemberID == memberID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindPendingPurchase(_ context.Context, memberID, productID string) (*purchase.PendingPurchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *purchase.PendingPurchase
	for _, p := range m.purchases {
		if p.MemberID != memberID || p.ProductID != productID || p.Status != purchase.PurchasePending {
			continue
		}
		p := p
		if oldest == nil || p.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &p
		}
	}
	return oldest, nil
}

func (m *Memory) PaymentByExternalID(_ context.Context, externalTxID string) (*purchase.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[externalTxID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context) ([]purchase.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]purchase.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RecordSettlement writes the payment, the grant, and the purchase
// confirmation in one critical section. The external transaction id
// uniqueness check and every write share the same lock, which is the
// in-memory equivalent of the SQL transaction in store/sqlite.
func (m *Memory) RecordSettlement(_ context.Context, s purchase.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.payments[s.Payment.ExternalTxID]; exists {
		return purchase.ErrDuplicateExternalTx
	}

	if s.PurchaseID != "" {
		p, ok := m.purchases[s.PurchaseID]
		if !ok {
			return purchase.ErrPurchaseNotFound
		}
		if p.Status != purchase.PurchasePending {
			return purchase.ErrAlreadyProcessed
		}
		p.Status = purchase.PurchaseConfirmed
		resolved := s.ResolvedAt
		p.ResolvedAt = &resolved
		m.purchases[s.PurchaseID] = p
	}

	m.payments[s.Payment.ExternalTxID] = s.Payment
	m.grants[s.Grant.ID] = copyGrant(s.Grant)
	return nil
}

func (m *Memory) SaveUnresolved(_ context.Context, e purchase.UnresolvedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unresolved[e.ID] = e
	return nil
}

func (m *Memory) GetUnresolved(_ context.Context, id string) (*purchase.UnresolvedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.unresolved[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *Memory) ListUnresolved(_ context.Context) ([]purchase.UnresolvedEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []purchase.UnresolvedEvent
	for _, e := range m.unresolved {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

func (m *Memory) MarkUnresolvedResolved(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.unresolved[id]
	if !ok {
		return purchase.ErrEventNotFound
	}
	e.Resolved = true
	m.unresolved[id] = e
	return nil
}
