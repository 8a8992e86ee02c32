package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/config"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/slab"
)

func TestHandlerExposesCounters(t *testing.T) {
	cfg := config.Default()
	pool := slab.NewPool(cfg.Slab.Chunks, cfg.Slab.ChunkSize)
	if err := pool.Init(); err != nil {
		t.Fatal(err)
	}
	d := dispatch.New(cfg, pool, dispatch.RoleDom)
	var table addrtable.Table
	table.Claim(3)

	reg := New(d, &table, pool)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"rs485bus_frames_in_total",
		"rs485bus_active_addresses 1",
		"rs485bus_slab_free_chunks",
		`rs485bus_queue_depth{queue="shame"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
