package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"abada_sales/internal/apperr"
	"abada_sales/internal/checkout"
	"abada_sales/internal/config"
	"abada_sales/internal/courtesy"
	"abada_sales/internal/middleware"
	"abada_sales/internal/model"
	"abada_sales/internal/notify"
	"abada_sales/internal/payment"
	"abada_sales/internal/redemption"
	"abada_sales/internal/store"
	"abada_sales/internal/webhook"

	"github.com/gin-gonic/gin"
)

const staffSecret = "router-test-secret"

type stubProcessor struct {
	payments map[string]*payment.Payment
	err      error
}

func (p *stubProcessor) GetPayment(_ context.Context, id string) (*payment.Payment, error) {
	if p.err != nil {
		return nil, p.err
	}
	if pay, ok := p.payments[id]; ok {
		return pay, nil
	}
	return nil, apperr.New(apperr.KindNotFound, "payment not found")
}

func (p *stubProcessor) LatestPaymentByReference(_ context.Context, ref string) (*payment.Payment, error) {
	if p.err != nil {
		return nil, p.err
	}
	for _, pay := range p.payments {
		if pay.ExternalReference == ref {
			return pay, nil
		}
	}
	return nil, nil
}

func (p *stubProcessor) CreatePreference(_ context.Context, req payment.PreferenceRequest) (*payment.Preference, error) {
	return &payment.Preference{ID: "pref-" + req.ExternalReference, InitPoint: "https://mp.example/x"}, nil
}

type silentNotifier struct{}

func (silentNotifier) NotifyTokenIssued(context.Context, notify.TokenNotice) error { return nil }

type env struct {
	r     *gin.Engine
	store *store.Store
	proc  *stubProcessor
	staff string
}

func newEnv(t *testing.T, purchaseEnabled bool) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "router.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := store.New(db)
	proc := &stubProcessor{payments: map[string]*payment.Payment{}}
	payments := payment.NewService(s, proc, silentNotifier{}, nil)

	cfg := config.AppConfig{
		StaffJWTSecret:  staffSecret,
		TokenRateLimit:  100,
		TokenRateWindow: time.Minute,
	}
	r := New(Deps{
		Store:      s,
		Redemption: redemption.NewEngine(s, nil),
		Payments:   payments,
		Webhooks:   webhook.NewIngress(payments, nil, "", time.Minute),
		Checkout:   checkout.NewService(s, proc, nil, "", ""),
		Settings:   checkout.Static(checkout.Settings{PurchaseEnabled: purchaseEnabled}),
		Courtesies: courtesy.NewService(s, nil),
		Config:     cfg,
	})
	tok, err := middleware.IssueStaffToken(staffSecret, "staff-1", time.Hour)
	if err != nil {
		t.Fatalf("issue staff token: %v", err)
	}
	return &env{r: r, store: s, proc: proc, staff: tok}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, body any, staff bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if staff {
		req.Header.Set("Authorization", "Bearer "+e.staff)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out envelope
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (e *env) paidOrder(t *testing.T, id, tok string, qty int) *model.Order {
	t.Helper()
	o := &model.Order{
		ID: id, Status: model.OrderPaid, PaymentStatus: model.PaymentApproved,
		LotID: 1, HolderName: "Ana", ExchangeToken: &tok,
		Items: []model.Item{{Type: model.ItemPrimary, Size: "M", Quantity: qty}},
	}
	if err := e.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestPing(t *testing.T) {
	e := newEnv(t, true)
	w, _ := e.do(t, http.MethodGet, "/ping", nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
}

func TestResolveToken(t *testing.T) {
	e := newEnv(t, true)
	e.paidOrder(t, "order-1", "TOKEN1", 2)

	w, body := e.do(t, http.MethodPost, "/token/resolve", gin.H{"token": " token1 "}, false)
	if w.Code != http.StatusOK || body.Code != 0 {
		t.Fatalf("resolve: %d %s", w.Code, w.Body.String())
	}
	var view model.View
	if err := json.Unmarshal(body.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.ID != "order-1" || view.Kind != model.KindOrder || len(view.Items) != 1 || view.Items[0].Remaining != 2 {
		t.Errorf("unexpected view %+v", view)
	}

	w, body = e.do(t, http.MethodPost, "/token/resolve", gin.H{"token": "missing"}, false)
	if w.Code != http.StatusNotFound || body.Code != http.StatusNotFound {
		t.Errorf("missing token: %d %+v", w.Code, body)
	}
}

func TestRedeemToken(t *testing.T) {
	e := newEnv(t, true)
	o := e.paidOrder(t, "order-1", "TOKEN1", 2)
	claim := gin.H{"token": "TOKEN1", "claims": []gin.H{{"itemId": o.Items[0].ID, "quantity": 1}}}

	if w, _ := e.do(t, http.MethodPost, "/token/redeem", claim, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated redeem: %d", w.Code)
	}

	w, body := e.do(t, http.MethodPost, "/token/redeem", gin.H{
		"token": "TOKEN1", "claims": []gin.H{{"itemId": o.Items[0].ID, "quantity": 5}},
	}, true)
	if w.Code != http.StatusBadRequest || body.Msg != fmt.Sprintf("quantity exceeds 2 remaining for item %d", o.Items[0].ID) {
		t.Fatalf("over-claim: %d %+v", w.Code, body)
	}

	if w, _ := e.do(t, http.MethodPost, "/token/redeem", claim, true); w.Code != http.StatusOK {
		t.Fatalf("first redeem: %d", w.Code)
	}
	w, body = e.do(t, http.MethodPost, "/token/redeem", claim, true)
	if w.Code != http.StatusOK {
		t.Fatalf("second redeem: %d", w.Code)
	}
	var view model.View
	_ = json.Unmarshal(body.Data, &view)
	if view.Status != string(model.OrderRedeemed) || view.RedeemedBy != "staff-1" {
		t.Errorf("unexpected view %+v", view)
	}

	if w, _ := e.do(t, http.MethodPost, "/token/redeem", claim, true); w.Code != http.StatusConflict {
		t.Errorf("redeem after completion: %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodPost, "/token/redeem", gin.H{"token": "TOKEN1", "claims": []gin.H{{"itemId": 9999, "quantity": 1}}}, true); w.Code != http.StatusNotFound && w.Code != http.StatusConflict {
		t.Errorf("foreign item: %d", w.Code)
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	e := newEnv(t, true)

	cases := []struct {
		path string
		body string
	}{
		{"/webhooks/payment", `{"foo":"bar"}`},
		{"/webhooks/payment", `not json at all`},
		{"/webhooks/payment?type=payment&data.id=404", ``},
	}
	for _, tc := range cases {
		w, _ := e.do(t, http.MethodPost, tc.path, tc.body, false)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tc.path, w.Code)
		}
		var ack struct {
			Received bool `json:"received"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || !ack.Received {
			t.Errorf("%s: body %s", tc.path, w.Body.String())
		}
	}
}

func TestWebhookReconciles(t *testing.T) {
	e := newEnv(t, true)
	o := &model.Order{
		ID: "order-1", Status: model.OrderPending, PaymentStatus: model.PaymentPending,
		LotID: 1, HolderName: "Ana", HolderEmail: "ana@example.com",
		Items: []model.Item{{Type: model.ItemAddOn, Quantity: 1}},
	}
	if err := e.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	e.proc.payments["321"] = &payment.Payment{ID: "321", Status: "approved", ExternalReference: "order-1"}

	w, _ := e.do(t, http.MethodPost, "/webhooks/payment", `{"type":"payment","data":{"id":"321"}}`, false)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	stored, _ := e.store.GetOrder(context.Background(), "order-1")
	if stored.Status != model.OrderPaid || stored.RedemptionToken() == "" {
		t.Errorf("order not reconciled: %+v", stored)
	}
}

func TestPaymentSync(t *testing.T) {
	e := newEnv(t, true)
	if w, _ := e.do(t, http.MethodPost, "/payment/sync", gin.H{"externalReference": "nope"}, false); w.Code != http.StatusNotFound {
		t.Errorf("unknown order: %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodPost, "/payment/sync", gin.H{}, false); w.Code != http.StatusBadRequest {
		t.Errorf("empty request: %d", w.Code)
	}

	e.paidOrder(t, "order-1", "TOKEN1", 1)
	e.proc.err = apperr.New(apperr.KindUpstream, "payment processor unreachable")
	if w, _ := e.do(t, http.MethodPost, "/payment/sync", gin.H{"externalReference": "order-1"}, false); w.Code != http.StatusBadGateway {
		t.Errorf("upstream: %d", w.Code)
	}
}

func TestCheckoutClosed(t *testing.T) {
	e := newEnv(t, false)
	w, _ := e.do(t, http.MethodPost, "/checkout", gin.H{
		"holderName":  "Ana",
		"holderEmail": "ana@example.com",
		"items":       []gin.H{{"type": "ADD_ON", "quantity": 1}},
	}, false)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGrantCourtesyAndRedeem(t *testing.T) {
	e := newEnv(t, true)
	w, body := e.do(t, http.MethodPost, "/courtesies", gin.H{
		"holderName": "Bia",
		"items":      []gin.H{{"type": "ADD_ON", "quantity": 1}},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("grant: %d %s", w.Code, w.Body.String())
	}
	var granted struct {
		Token string       `json:"token"`
		Items []model.Item `json:"items"`
	}
	if err := json.Unmarshal(body.Data, &granted); err != nil || granted.Token == "" {
		t.Fatalf("decode grant: %v %s", err, body.Data)
	}

	w, body = e.do(t, http.MethodPost, "/token/redeem", gin.H{
		"token": granted.Token, "claims": []gin.H{{"itemId": granted.Items[0].ID, "quantity": 1}},
	}, true)
	if w.Code != http.StatusOK {
		t.Fatalf("redeem courtesy: %d %s", w.Code, w.Body.String())
	}
	var view model.View
	_ = json.Unmarshal(body.Data, &view)
	if view.Status != string(model.CourtesyRedeemed) {
		t.Errorf("unexpected status %s", view.Status)
	}
}

func TestPurgeCancelled(t *testing.T) {
	e := newEnv(t, true)
	o := &model.Order{
		ID: "order-x", Status: model.OrderCancelled, PaymentStatus: model.PaymentRejected,
		LotID: 1, HolderName: "Ana",
		Items: []model.Item{{Type: model.ItemAddOn, Quantity: 1}},
	}
	if err := e.store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w, _ := e.do(t, http.MethodDelete, "/admin/orders/cancelled?before=yesterday", nil, true); w.Code != http.StatusBadRequest {
		t.Errorf("bad before: %d", w.Code)
	}
	future := time.Now().Add(time.Hour).Format(time.RFC3339)
	w, body := e.do(t, http.MethodDelete, "/admin/orders/cancelled?before="+future, nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("purge: %d", w.Code)
	}
	var res struct {
		Purged int64 `json:"purged"`
	}
	_ = json.Unmarshal(body.Data, &res)
	if res.Purged != 1 {
		t.Errorf("purged = %d", res.Purged)
	}
}
