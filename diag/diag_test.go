package diag

import (
	"net/http"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/config"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/slab"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	pool := slab.NewPool(cfg.Slab.Chunks, cfg.Slab.ChunkSize)
	if err := pool.Init(); err != nil {
		t.Fatal(err)
	}
	d := dispatch.New(cfg, pool, dispatch.RoleDom)
	if _, err := d.RegisterPort(10); err != nil {
		t.Fatal(err)
	}
	var table addrtable.Table
	table.Claim(4)
	return New(d, &table, pool, nil)
}

func doRequest(h fasthttp.RequestHandler, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(path)
	h(ctx)
	return ctx
}

func TestStateEndpointRendersSnapshot(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(s.Handler(), "/state")

	body := string(ctx.Response.Body())
	for _, want := range []string{`"role":"dom"`, `"active_addresses":[4]`, `"port":10`} {
		if !strings.Contains(body, want) {
			t.Fatalf("snapshot body missing %q:\n%s", want, body)
		}
	}
}

func TestMetricsEndpointNotFoundWithoutHandler(t *testing.T) {
	s := newTestServer(t)
	ctx := doRequest(s.Handler(), "/metrics")
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}

func TestMetricsEndpointAdaptsNetHTTPHandler(t *testing.T) {
	cfg := config.Default()
	pool := slab.NewPool(cfg.Slab.Chunks, cfg.Slab.ChunkSize)
	if err := pool.Init(); err != nil {
		t.Fatal(err)
	}
	d := dispatch.New(cfg, pool, dispatch.RoleDom)
	var table addrtable.Table

	s := New(d, &table, pool, okHandler{})
	ctx := doRequest(s.Handler(), "/metrics")
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
}

type okHandler struct{}

func (okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }
