package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
)

func newClient(t *testing.T) (*rd.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestClaimWebhook(t *testing.T) {
	rdb, mr := newClient(t)
	ctx := context.Background()

	ok, err := ClaimWebhook(ctx, rdb, "123", "req-1", "claim-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = ClaimWebhook(ctx, rdb, "123", "req-1", "claim-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}

	// 非持有者释放无效
	if err := ReleaseWebhookIfMatch(ctx, rdb, "123", "req-1", "claim-b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !mr.Exists(WebhookClaimKey("123", "req-1")) {
		t.Fatal("claim released by non-owner")
	}
	if err := ReleaseWebhookIfMatch(ctx, rdb, "123", "req-1", "claim-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = ClaimWebhook(ctx, rdb, "123", "req-1", "claim-c", time.Minute)
	if !ok {
		t.Fatal("claim should be available after release")
	}

	mr.FastForward(2 * time.Minute)
	ok, _ = ClaimWebhook(ctx, rdb, "123", "req-1", "claim-d", time.Minute)
	if !ok {
		t.Fatal("claim should expire with ttl")
	}
}

func TestWebhookState(t *testing.T) {
	rdb, mr := newClient(t)
	ctx := context.Background()

	if _, found, err := GetWebhookState(ctx, rdb, "9"); err != nil || found {
		t.Fatalf("expected missing state, found=%v err=%v", found, err)
	}
	st := WebhookState{PaymentID: "9", Outcome: WebhookProcessed, OrderID: "order-1", Status: "PAID"}
	if err := PutWebhookState(ctx, rdb, st, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, found, err := GetWebhookState(ctx, rdb, "9")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got != st {
		t.Errorf("got %+v, want %+v", got, st)
	}
	if ttl := mr.TTL(WebhookStateKey("9")); ttl <= 0 {
		t.Errorf("expected ttl, got %v", ttl)
	}
}
