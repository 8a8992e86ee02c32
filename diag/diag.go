// Package diag is the optional local introspection server: a small
// fasthttp listener exposing the live dispatch port table, address
// table occupancy, and slab pool state as JSON, alongside the
// telemetry package's /metrics handler. It exists purely for operators
// and tests to look inside a running node; nothing in the protocol
// depends on it being enabled, mirroring the teacher's pattern of a
// diagnostics server that is additive to, never load-bearing for, the
// data path it reports on.
package diag

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/anachro-go/rs485bus/addrtable"
	"github.com/anachro-go/rs485bus/dispatch"
	"github.com/anachro-go/rs485bus/slab"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot is the point-in-time state rendered at /state.
type Snapshot struct {
	Role            string              `json:"role"`
	LocalAddr       uint8               `json:"local_addr"`
	Ports           []dispatch.PortStat `json:"ports"`
	FramesIn        int64               `json:"frames_in"`
	FramesOut       int64               `json:"frames_out"`
	FramesDropped   int64               `json:"frames_dropped"`
	ShameEvents     int64               `json:"shame_events"`
	// ActiveAddresses is []int, not []wire.Addr/[]byte: encoding/json (and
	// jsoniter's compatible mode) renders a byte slice as base64, not a
	// JSON array, which would misrepresent the address list.
	ActiveAddresses []int               `json:"active_addresses"`
	SlabFree        int                 `json:"slab_free"`
	SlabChunks      int                 `json:"slab_chunks"`
	SlabExhausted   int64               `json:"slab_exhausted"`
}

// Server renders Snapshot and mounts it, plus an optional metrics
// handler, behind a fasthttp listener.
type Server struct {
	d       *dispatch.Dispatcher
	table   *addrtable.Table
	pool    *slab.Pool
	metrics http.Handler
}

// New builds a Server reading live state from d, table, and pool. If
// metrics is non-nil, it is mounted at /metrics.
func New(d *dispatch.Dispatcher, table *addrtable.Table, pool *slab.Pool, metrics http.Handler) *Server {
	return &Server{d: d, table: table, pool: pool, metrics: metrics}
}

func (s *Server) snapshot() Snapshot {
	role := "sub"
	if s.d.Role() == dispatch.RoleDom {
		role = "dom"
	}
	active := s.table.ActiveAddrs()
	out := make([]int, len(active))
	for i, a := range active {
		out[i] = int(a)
	}
	return Snapshot{
		Role:            role,
		LocalAddr:       uint8(s.d.LocalAddr()),
		Ports:           s.d.Ports(),
		FramesIn:        s.d.FramesIn(),
		FramesOut:       s.d.FramesOut(),
		FramesDropped:   s.d.FramesDropped(),
		ShameEvents:     s.d.ShameEvents(),
		ActiveAddresses: out,
		SlabFree:        s.pool.Free(),
		SlabChunks:      s.pool.N(),
		SlabExhausted:   s.pool.Exhausted(),
	}
}

func (s *Server) handleState(ctx *fasthttp.RequestCtx) {
	b, err := json.Marshal(s.snapshot())
	if err != nil {
		ctx.Error("diag: marshal snapshot failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// Handler builds the fasthttp request handler for this server: /state
// renders the JSON snapshot directly; /metrics, if a metrics handler
// was supplied, is adapted from net/http via fasthttpadaptor, the same
// seam the teacher uses to host a net/http-based Prometheus handler
// inside an otherwise fasthttp server.
func (s *Server) Handler() fasthttp.RequestHandler {
	var metricsHandler fasthttp.RequestHandler
	if s.metrics != nil {
		metricsHandler = fasthttpadaptor.NewFastHTTPHandler(s.metrics)
	}
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/state":
			s.handleState(ctx)
		case "/metrics":
			if metricsHandler == nil {
				ctx.Error("diag: metrics not configured", fasthttp.StatusNotFound)
				return
			}
			metricsHandler(ctx)
		default:
			ctx.Error("diag: not found", fasthttp.StatusNotFound)
		}
	}
}

// ListenAndServe blocks serving the diagnostics handler on addr.
func (s *Server) ListenAndServe(addr string) error {
	return fasthttp.ListenAndServe(addr, s.Handler())
}
