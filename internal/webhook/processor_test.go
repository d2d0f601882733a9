package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noor-atelier/backend/internal/orders"
	"github.com/noor-atelier/backend/internal/payment"
	"github.com/noor-atelier/backend/internal/stock"
)

const testSecret = "whsec_test"

// fakeStore mimics the repo's conditional-update semantics under a mutex: the
// pending→paid flip reports won=true to exactly one caller.
type fakeStore struct {
	mu        sync.Mutex
	bySession map[string]*orders.Order
	byIntent  map[string]*orders.Order
	err       error
}

func newFakeStore(os ...*orders.Order) *fakeStore {
	s := &fakeStore{bySession: map[string]*orders.Order{}, byIntent: map[string]*orders.Order{}}
	for _, o := range os {
		s.bySession[o.SessionID] = o
		if o.PaymentIntentID != "" {
			s.byIntent[o.PaymentIntentID] = o
		}
	}
	return s
}

func (s *fakeStore) markPaid(o *orders.Order, intentID string) (*orders.Order, bool) {
	if o.Status != orders.StatusPending {
		cp := *o
		return &cp, false
	}
	o.Status = orders.StatusPaid
	now := time.Now().UTC()
	o.PaidAt = &now
	if intentID != "" {
		o.PaymentIntentID = intentID
		s.byIntent[intentID] = o
	}
	cp := *o
	return &cp, true
}

func (s *fakeStore) MarkPaidBySession(_ context.Context, sessionID, intentID, _ string, _ []byte) (*orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	o, ok := s.bySession[sessionID]
	if !ok {
		return nil, false, orders.ErrNotFound
	}
	cp, won := s.markPaid(o, intentID)
	return cp, won, nil
}

func (s *fakeStore) MarkPaidByIntent(_ context.Context, intentID string) (*orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	o, ok := s.byIntent[intentID]
	if !ok {
		return nil, false, orders.ErrNotFound
	}
	cp, won := s.markPaid(o, "")
	return cp, won, nil
}

func (s *fakeStore) MarkFailedBySession(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.bySession[sessionID]
	if !ok || o.Status != orders.StatusPending {
		return false, nil
	}
	o.Status = orders.StatusFailed
	return true, nil
}

func (s *fakeStore) MarkFailedByIntent(_ context.Context, intentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byIntent[intentID]
	if !ok || o.Status != orders.StatusPending {
		return false, nil
	}
	o.Status = orders.StatusFailed
	return true, nil
}

func (s *fakeStore) status(sessionID string) orders.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bySession[sessionID].Status
}

type fakeLedger struct {
	mu    sync.Mutex
	sizes map[string]int // "productID/size" -> qty
	agg   map[string]int
	calls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sizes: map[string]int{}, agg: map[string]int{}}
}

func (l *fakeLedger) set(productID, size string, qty int) {
	l.sizes[productID+"/"+size] = qty
	l.agg[productID] += qty
}

func (l *fakeLedger) Decrement(_ context.Context, productID, size string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	key := productID + "/" + size
	cur, ok := l.sizes[key]
	if !ok {
		return stock.ErrSizeNotFound
	}
	if cur < qty {
		return stock.ErrInsufficientStock
	}
	l.sizes[key] = cur - qty
	l.agg[productID] -= qty
	return nil
}

func (l *fakeLedger) sizeQty(productID, size string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sizes[productID+"/"+size]
}

func (l *fakeLedger) aggQty(productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.agg[productID]
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) OrderConfirmed(_ context.Context, o *orders.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, o.ID)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{seen: map[string]bool{}} }

func (d *fakeDedup) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

func (d *fakeDedup) Mark(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = true
}

func signedEvent(t *testing.T, id, typ string, object any) (body []byte, header string) {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	body, err = json.Marshal(map[string]any{
		"id":   id,
		"type": typ,
		"data": map[string]any{"object": json.RawMessage(obj)},
	})
	require.NoError(t, err)
	return body, payment.SignatureHeader(body, time.Now().Unix(), testSecret)
}

func pendingOrder() *orders.Order {
	return &orders.Order{
		ID:         "ord_1",
		SessionID:  "cs_1",
		Status:     orders.StatusPending,
		TotalCents: 5750,
		Currency:   "aed",
		Customer:   orders.CustomerInfo{Email: "amal@example.com"},
		Items: []orders.LineItem{
			{ProductID: "p1", Name: "Evening Dress", Qty: 1, UnitCents: 5000, SelectedSize: "M"},
		},
	}
}

func newProcessor(store *fakeStore, ledger *fakeLedger, notifier *fakeNotifier) *Processor {
	return &Processor{
		Orders: store,
		Ledger: ledger,
		Notify: notifier,
		Dedup:  newFakeDedup(),
		Secret: testSecret,
		Log:    zap.NewNop(),
	}
}

func TestSessionCompletedConfirmsAndCommitsStock(t *testing.T) {
	store := newFakeStore(pendingOrder())
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	body, header := signedEvent(t, "evt_1", payment.EventSessionCompleted,
		payment.Session{ID: "cs_1", PaymentIntent: "pi_1", PaymentStatus: "paid"})
	require.NoError(t, p.Handle(context.Background(), body, header))

	assert.Equal(t, orders.StatusPaid, store.status("cs_1"))
	assert.Equal(t, 2, ledger.sizeQty("p1", "M"))
	assert.Equal(t, 2, ledger.aggQty("p1"))
	assert.Equal(t, 1, notifier.count())
}

func TestReplayedEventIsNoOp(t *testing.T) {
	store := newFakeStore(pendingOrder())
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	body, header := signedEvent(t, "evt_1", payment.EventSessionCompleted,
		payment.Session{ID: "cs_1", PaymentIntent: "pi_1"})

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Handle(context.Background(), body, header))
	}

	assert.Equal(t, 2, ledger.sizeQty("p1", "M"), "stock must be decremented exactly once")
	assert.Equal(t, 1, notifier.count(), "one confirmation only")
}

func TestDuplicateWithFreshEventIDIsNoOp(t *testing.T) {
	// same delivery re-signed under a new event id: dedup misses, the
	// conditional transition still blocks the second commit
	store := newFakeStore(pendingOrder())
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	for i := 0; i < 3; i++ {
		body, header := signedEvent(t, fmt.Sprintf("evt_%d", i), payment.EventSessionCompleted,
			payment.Session{ID: "cs_1", PaymentIntent: "pi_1"})
		require.NoError(t, p.Handle(context.Background(), body, header))
	}

	assert.Equal(t, 2, ledger.sizeQty("p1", "M"))
	assert.Equal(t, 1, notifier.count())
}

func TestConcurrentConfirmationsCommitOnce(t *testing.T) {
	o := pendingOrder()
	o.PaymentIntentID = "pi_1"
	store := newFakeStore(o)
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	// interleave session-completed and payment_intent.succeeded arbitrarily
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		var body []byte
		var header string
		if i%2 == 0 {
			body, header = signedEvent(t, fmt.Sprintf("evt_s_%d", i), payment.EventSessionCompleted,
				payment.Session{ID: "cs_1", PaymentIntent: "pi_1"})
		} else {
			body, header = signedEvent(t, fmt.Sprintf("evt_i_%d", i), payment.EventIntentSucceeded,
				payment.PaymentIntent{ID: "pi_1"})
		}
		wg.Add(1)
		go func(body []byte, header string) {
			defer wg.Done()
			assert.NoError(t, p.Handle(context.Background(), body, header))
		}(body, header)
	}
	wg.Wait()

	assert.Equal(t, orders.StatusPaid, store.status("cs_1"))
	assert.Equal(t, 2, ledger.sizeQty("p1", "M"), "exactly one inventory commit")
	assert.Equal(t, 1, notifier.count())
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	// size M stock 2, two orders each wanting 2 units: one wins in full, the
	// loser records the shortfall, the counter never goes negative
	o1 := pendingOrder()
	o2 := pendingOrder()
	o2.ID = "ord_2"
	o2.SessionID = "cs_2"
	o2.Items = []orders.LineItem{{ProductID: "p1", Name: "Evening Dress", Qty: 2, UnitCents: 5000, SelectedSize: "M"}}
	o1.Items = []orders.LineItem{{ProductID: "p1", Name: "Evening Dress", Qty: 2, UnitCents: 5000, SelectedSize: "M"}}
	store := newFakeStore(o1, o2)
	ledger := newFakeLedger()
	ledger.set("p1", "M", 2)
	p := newProcessor(store, ledger, &fakeNotifier{})

	var wg sync.WaitGroup
	for _, sid := range []string{"cs_1", "cs_2"} {
		body, header := signedEvent(t, "evt_"+sid, payment.EventSessionCompleted, payment.Session{ID: sid})
		wg.Add(1)
		go func(body []byte, header string) {
			defer wg.Done()
			assert.NoError(t, p.Handle(context.Background(), body, header))
		}(body, header)
	}
	wg.Wait()

	assert.Equal(t, 0, ledger.sizeQty("p1", "M"))
	assert.GreaterOrEqual(t, ledger.aggQty("p1"), 0, "aggregate must never go negative")
	// both orders are paid regardless; the discrepancy is an operator task
	assert.Equal(t, orders.StatusPaid, store.status("cs_1"))
	assert.Equal(t, orders.StatusPaid, store.status("cs_2"))
}

func TestUnknownEventTypeAcknowledged(t *testing.T) {
	store := newFakeStore(pendingOrder())
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	body, header := signedEvent(t, "evt_x", "invoice.payment_succeeded", map[string]string{"id": "in_1"})
	require.NoError(t, p.Handle(context.Background(), body, header))

	assert.Equal(t, orders.StatusPending, store.status("cs_1"))
	assert.Equal(t, 3, ledger.sizeQty("p1", "M"))
	assert.Zero(t, notifier.count())
}

func TestInvalidSignatureRejectedWithoutStateChange(t *testing.T) {
	store := newFakeStore(pendingOrder())
	ledger := newFakeLedger()
	ledger.set("p1", "M", 3)
	p := newProcessor(store, ledger, &fakeNotifier{})

	body, _ := signedEvent(t, "evt_1", payment.EventSessionCompleted, payment.Session{ID: "cs_1"})
	header := payment.SignatureHeader(body, time.Now().Unix(), "wrong_secret")

	err := p.Handle(context.Background(), body, header)
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
	assert.Equal(t, orders.StatusPending, store.status("cs_1"))
	assert.Equal(t, 3, ledger.sizeQty("p1", "M"))
}

func TestAsyncPaymentFailedMarksFailedOnceOnly(t *testing.T) {
	store := newFakeStore(pendingOrder())
	p := newProcessor(store, newFakeLedger(), &fakeNotifier{})

	body, header := signedEvent(t, "evt_f1", payment.EventAsyncPaymentFailed, payment.Session{ID: "cs_1"})
	require.NoError(t, p.Handle(context.Background(), body, header))
	assert.Equal(t, orders.StatusFailed, store.status("cs_1"))

	// a late success for the same order must not overwrite the terminal state
	body, header = signedEvent(t, "evt_s1", payment.EventSessionCompleted, payment.Session{ID: "cs_1"})
	require.NoError(t, p.Handle(context.Background(), body, header))
	assert.Equal(t, orders.StatusFailed, store.status("cs_1"))
}

func TestIntentFailedMirrorsSessionPath(t *testing.T) {
	o := pendingOrder()
	o.PaymentIntentID = "pi_1"
	store := newFakeStore(o)
	p := newProcessor(store, newFakeLedger(), &fakeNotifier{})

	body, header := signedEvent(t, "evt_if", payment.EventIntentFailed, payment.PaymentIntent{ID: "pi_1"})
	require.NoError(t, p.Handle(context.Background(), body, header))
	assert.Equal(t, orders.StatusFailed, store.status("cs_1"))
}

func TestInsufficientStockSkipsItemButContinues(t *testing.T) {
	o := pendingOrder()
	o.Items = []orders.LineItem{
		{ProductID: "p1", Qty: 5, UnitCents: 5000, SelectedSize: "M"}, // shortfall
		{ProductID: "p2", Qty: 1, UnitCents: 2000, SelectedSize: "S"},
		{ProductID: "p3", Qty: 1, UnitCents: 1000, SelectedSize: "XL"}, // size missing
	}
	store := newFakeStore(o)
	ledger := newFakeLedger()
	ledger.set("p1", "M", 2)
	ledger.set("p2", "S", 4)
	notifier := &fakeNotifier{}
	p := newProcessor(store, ledger, notifier)

	body, header := signedEvent(t, "evt_1", payment.EventSessionCompleted, payment.Session{ID: "cs_1"})
	require.NoError(t, p.Handle(context.Background(), body, header), "a paid order is always acknowledged")

	assert.Equal(t, orders.StatusPaid, store.status("cs_1"))
	assert.Equal(t, 2, ledger.sizeQty("p1", "M"), "short item untouched")
	assert.Equal(t, 3, ledger.sizeQty("p2", "S"), "remaining items still committed")
	assert.Equal(t, 1, notifier.count())
}

func TestStoreFailureIsCritical(t *testing.T) {
	store := newFakeStore(pendingOrder())
	store.err = errors.New("db down")
	p := newProcessor(store, newFakeLedger(), &fakeNotifier{})

	body, header := signedEvent(t, "evt_1", payment.EventSessionCompleted, payment.Session{ID: "cs_1"})
	err := p.Handle(context.Background(), body, header)
	assert.ErrorIs(t, err, ErrCritical)
}

func TestUnknownSessionAcknowledged(t *testing.T) {
	// a session with no matching order is reconciliation-sweep territory;
	// retrying the delivery cannot fix it, so it is acked
	store := newFakeStore()
	p := newProcessor(store, newFakeLedger(), &fakeNotifier{})

	body, header := signedEvent(t, "evt_1", payment.EventSessionCompleted, payment.Session{ID: "cs_missing"})
	assert.NoError(t, p.Handle(context.Background(), body, header))
}
