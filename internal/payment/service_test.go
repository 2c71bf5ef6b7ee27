package payment

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"abada_sales/internal/apperr"
	"abada_sales/internal/model"
	"abada_sales/internal/notify"
	"abada_sales/internal/store"
)

type fakeProcessor struct {
	mu       sync.Mutex
	payments map[string]*Payment
	latest   map[string]*Payment
	err      error
	calls    int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{payments: map[string]*Payment{}, latest: map[string]*Payment{}}
}

func (f *fakeProcessor) set(p *Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payments[p.ID] = &cp
	f.latest[p.ExternalReference] = &cp
}

func (f *fakeProcessor) GetPayment(_ context.Context, id string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.payments[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "payment not found")
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProcessor) LatestPaymentByReference(_ context.Context, ref string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.latest[ref]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProcessor) CreatePreference(_ context.Context, req PreferenceRequest) (*Preference, error) {
	return &Preference{ID: "pref-" + req.ExternalReference}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notify.TokenNotice
	err     error
}

func (f *fakeNotifier) NotifyTokenIssued(_ context.Context, n notify.TokenNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return f.err
}

type fixture struct {
	svc      *Service
	store    *store.Store
	proc     *fakeProcessor
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "payment.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := store.New(db)
	proc := newFakeProcessor()
	n := &fakeNotifier{}
	return &fixture{svc: NewService(s, proc, n, nil), store: s, proc: proc, notifier: n}
}

func (f *fixture) pendingOrder(t *testing.T, id string) {
	t.Helper()
	o := &model.Order{
		ID:                id,
		Status:            model.OrderPending,
		PaymentStatus:     model.PaymentPending,
		Total:             15000,
		LotID:             1,
		HolderName:        "Ana",
		HolderEmail:       "ana@example.com",
		PreferenceID:      "pref-" + id,
		ExternalReference: id,
		Items:             []model.Item{{Type: model.ItemPrimary, Size: "G", Quantity: 1, UnitPrice: 15000}},
	}
	if err := f.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		in     string
		status model.OrderStatus
		ps     model.PaymentStatus
	}{
		{"approved", model.OrderPaid, model.PaymentApproved},
		{" APPROVED ", model.OrderPaid, model.PaymentApproved},
		{"rejected", model.OrderCancelled, model.PaymentRejected},
		{"cancelled", model.OrderCancelled, model.PaymentRejected},
		{"refunded", "", model.PaymentRefunded},
		{"pending", "", model.PaymentPending},
		{"in_process", "", model.PaymentPending},
		{"", "", model.PaymentPending},
	}
	for _, tc := range cases {
		m := MapStatus(tc.in)
		if m.Status != tc.status || m.PaymentStatus != tc.ps {
			t.Errorf("MapStatus(%q) = %+v, want %s/%s", tc.in, m, tc.status, tc.ps)
		}
	}
}

func TestMappingApplyNeverDemotesSettledOrders(t *testing.T) {
	cases := []struct {
		name      string
		processor string
		from      model.OrderStatus
		fromPS    model.PaymentStatus
		want      model.OrderStatus
		wantPS    model.PaymentStatus
	}{
		{"approved on pending", "approved", model.OrderPending, model.PaymentPending, model.OrderPaid, model.PaymentApproved},
		{"approved on redeemed", "approved", model.OrderRedeemed, model.PaymentApproved, model.OrderRedeemed, model.PaymentApproved},
		{"rejected on paid", "rejected", model.OrderPaid, model.PaymentApproved, model.OrderPaid, model.PaymentApproved},
		{"pending on paid", "pending", model.OrderPaid, model.PaymentApproved, model.OrderPaid, model.PaymentApproved},
		{"refunded on paid", "refunded", model.OrderPaid, model.PaymentApproved, model.OrderPaid, model.PaymentRefunded},
		{"rejected on pending", "rejected", model.OrderPending, model.PaymentPending, model.OrderCancelled, model.PaymentRejected},
		{"approved on cancelled", "approved", model.OrderCancelled, model.PaymentRejected, model.OrderPaid, model.PaymentApproved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, ps := MapStatus(tc.processor).Apply(tc.from, tc.fromPS)
			if st != tc.want || ps != tc.wantPS {
				t.Errorf("got %s/%s, want %s/%s", st, ps, tc.want, tc.wantPS)
			}
		})
	}
}

func TestSyncApprovedMintsTokenOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.proc.set(&Payment{ID: "111", Status: "approved", ExternalReference: "order-1"})

	first, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if !first.OK || !first.FoundPayment || first.Status != model.OrderPaid || first.PaymentStatus != model.PaymentApproved {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.ExchangeToken == "" || first.MPPaymentID != "111" {
		t.Fatalf("expected token and payment id, got %+v", first)
	}
	if first.NotificationSent == nil || !*first.NotificationSent {
		t.Errorf("expected notification on first PAID")
	}

	second, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.ExchangeToken != first.ExchangeToken || second.Status != first.Status || second.PaymentStatus != first.PaymentStatus {
		t.Errorf("re-sync changed state: %+v vs %+v", second, first)
	}
	if second.NotificationSent != nil {
		t.Error("re-sync must not notify again")
	}
	if len(f.notifier.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(f.notifier.notices))
	}
	n := f.notifier.notices[0]
	if n.Token != first.ExchangeToken || n.PaymentID != "111" || n.Email != "ana@example.com" || n.HolderName != "Ana" {
		t.Errorf("unexpected notice %+v", n)
	}

	o, err := f.store.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.PaymentID != "111" || o.PaidAt == nil || o.RedemptionToken() != first.ExchangeToken {
		t.Errorf("stored order %+v", o)
	}
	exists, _ := f.store.TokenExists(ctx, first.ExchangeToken)
	if !exists {
		t.Error("token must be registered")
	}
}

func TestSyncKeepsExistingToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := "PRESET"
	o := &model.Order{
		ID: "order-1", Status: model.OrderPending, PaymentStatus: model.PaymentPending,
		LotID: 1, HolderName: "Ana", ExchangeToken: &tok,
		Items: []model.Item{{Type: model.ItemAddOn, Quantity: 1}},
	}
	if err := f.store.CreateOrder(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.proc.set(&Payment{ID: "7", Status: "approved", ExternalReference: "order-1"})

	res, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.ExchangeToken != "PRESET" {
		t.Errorf("token re-minted: %s", res.ExchangeToken)
	}
	if res.NotificationSent == nil || !*res.NotificationSent {
		t.Fatal("expected notification attempt")
	}
}

func TestSyncPendingAndRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.pendingOrder(t, "order-2")
	f.proc.set(&Payment{ID: "1", Status: "in_process", ExternalReference: "order-1"})
	f.proc.set(&Payment{ID: "2", Status: "rejected", ExternalReference: "order-2"})

	res, err := f.svc.Sync(ctx, SyncRequest{PreferenceID: "pref-order-1"})
	if err != nil {
		t.Fatalf("sync pending: %v", err)
	}
	if res.Status != model.OrderPending || res.PaymentStatus != model.PaymentPending || res.ExchangeToken != "" {
		t.Errorf("unexpected pending result %+v", res)
	}
	o, _ := f.store.GetOrder(ctx, "order-1")
	if o.PaymentID != "1" {
		t.Errorf("payment id must be refreshed, got %q", o.PaymentID)
	}

	res, err = f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-2"})
	if err != nil {
		t.Fatalf("sync rejected: %v", err)
	}
	if res.Status != model.OrderCancelled || res.PaymentStatus != model.PaymentRejected {
		t.Errorf("unexpected rejected result %+v", res)
	}
	if len(f.notifier.notices) != 0 {
		t.Error("no notification expected")
	}
}

func TestSyncStaleRejectDoesNotDemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.proc.set(&Payment{ID: "1", Status: "approved", ExternalReference: "order-1"})
	if _, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"}); err != nil {
		t.Fatalf("sync: %v", err)
	}

	f.proc.set(&Payment{ID: "2", Status: "rejected", ExternalReference: "order-1"})
	res, err := f.svc.HandleNotification(ctx, "2")
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if res.Status != model.OrderPaid || res.PaymentStatus != model.PaymentApproved {
		t.Errorf("settled order demoted: %+v", res)
	}
	o, _ := f.store.GetOrder(ctx, "order-1")
	if o.PaymentID != "1" {
		t.Errorf("stale payment id stored: %s", o.PaymentID)
	}
}

func TestSyncRefundedKeepsStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.proc.set(&Payment{ID: "1", Status: "approved", ExternalReference: "order-1"})
	if _, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	f.proc.set(&Payment{ID: "1", Status: "refunded", ExternalReference: "order-1"})
	res, err := f.svc.Sync(ctx, SyncRequest{PaymentID: "1"})
	if err != nil {
		t.Fatalf("sync refunded: %v", err)
	}
	if res.Status != model.OrderPaid || res.PaymentStatus != model.PaymentRefunded {
		t.Errorf("unexpected %+v", res)
	}
}

func TestSyncByUnknownPaymentIDUsesExternalReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.proc.set(&Payment{ID: "999", Status: "approved", ExternalReference: "order-1"})

	res, err := f.svc.Sync(ctx, SyncRequest{PaymentID: "999"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.OrderID != "order-1" || res.Status != model.OrderPaid {
		t.Errorf("unexpected %+v", res)
	}
}

func TestSyncNoPaymentYet(t *testing.T) {
	f := newFixture(t)
	f.pendingOrder(t, "order-1")

	res, err := f.svc.Sync(context.Background(), SyncRequest{ExternalReference: "order-1"})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.FoundPayment || res.Status != model.OrderPending {
		t.Errorf("unexpected %+v", res)
	}
}

func TestSyncErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")

	if _, err := f.svc.Sync(ctx, SyncRequest{}); apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Errorf("empty request: got %v", err)
	}
	if _, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "nope"}); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown order: got %v", err)
	}

	f.proc.err = apperr.Wrap(apperr.KindUpstream, "payment processor unreachable", errors.New("dial tcp: timeout"))
	_, err := f.svc.Sync(ctx, SyncRequest{ExternalReference: "order-1"})
	if apperr.KindOf(err) != apperr.KindUpstream {
		t.Errorf("upstream: got %v", err)
	}
	o, _ := f.store.GetOrder(ctx, "order-1")
	if o.Status != model.OrderPending || o.PaymentStatus != model.PaymentPending {
		t.Errorf("failed sync changed state: %s/%s", o.Status, o.PaymentStatus)
	}
}

func TestNotificationFailureDoesNotFailSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.notifier.err = errors.New("smtp down")
	f.proc.set(&Payment{ID: "1", Status: "approved", ExternalReference: "order-1"})

	res, err := f.svc.HandleNotification(ctx, "1")
	if err != nil {
		t.Fatalf("notification: %v", err)
	}
	if res.NotificationSent == nil || *res.NotificationSent {
		t.Errorf("expected notificationSent=false, got %+v", res.NotificationSent)
	}
	o, _ := f.store.GetOrder(ctx, "order-1")
	if o.Status != model.OrderPaid || o.RedemptionToken() == "" {
		t.Errorf("payment state must be durable, got %+v", o)
	}
}

func TestHandleNotificationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pendingOrder(t, "order-1")
	f.proc.set(&Payment{ID: "1", Status: "approved", ExternalReference: "order-1"})

	var tokens []string
	for i := 0; i < 3; i++ {
		res, err := f.svc.HandleNotification(ctx, "1")
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		tokens = append(tokens, res.ExchangeToken)
	}
	if tokens[0] != tokens[1] || tokens[1] != tokens[2] {
		t.Errorf("token changed across deliveries: %v", tokens)
	}
	if len(f.notifier.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(f.notifier.notices))
	}
}
