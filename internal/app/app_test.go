package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"abada_sales/internal/config"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return config.AppConfig{
		DBDriver:         "sqlite",
		DBPath:           filepath.Join(dir, "app.db"),
		TokenRateLimit:   10,
		TokenRateWindow:  time.Minute,
		MPTimeout:        time.Second,
		WebhookDedupeTTL: time.Minute,
		PurchaseEnabled:  true,
		LotsFile:         filepath.Join(dir, "lots.yaml"),
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	if a.Redis != nil {
		t.Error("redis must stay nil without REDIS_ADDR")
	}
	d := a.RouterDeps()
	if d.Redemption == nil || d.Payments == nil || d.Webhooks == nil || d.Checkout == nil || d.Courtesies == nil {
		t.Fatalf("missing dependency in %+v", d)
	}
	if !d.Settings().PurchaseEnabled {
		t.Error("settings not propagated")
	}
	wait := a.StartWorkers(context.Background())
	wait()
}

func TestSyncLots(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	if n, err := a.SyncLots(ctx); err != nil || n != 0 {
		t.Fatalf("missing file: n=%d err=%v", n, err)
	}

	yaml := "lots:\n  - name: lote-1\n    primary_price: 15000\n    add_on_price: 3000\n    starts_at: 2020-01-01T00:00:00Z\n    ends_at: 2100-01-01T00:00:00Z\n    active: true\n"
	if err := os.WriteFile(cfg.LotsFile, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write lots: %v", err)
	}
	for i := 0; i < 2; i++ {
		if n, err := a.SyncLots(ctx); err != nil || n != 1 {
			t.Fatalf("sync %d: n=%d err=%v", i, n, err)
		}
	}
	lot, err := a.Store.ActiveLot(ctx, time.Now())
	if err != nil || lot.Name != "lote-1" {
		t.Fatalf("active lot: %+v %v", lot, err)
	}
}
