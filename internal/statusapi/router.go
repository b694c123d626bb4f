package statusapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the status API's chi.Router.
//
// Route layout:
//
//	GET /healthz                    – liveness + RAM ring depth snapshot
//	GET /metrics                    – Prometheus exposition
//	GET /blocks/{index}/size        – size of the most recent block at or
//	                                   before index still held on flash
//	GET /blocks/{index}             – a byte range of the block carrying
//	                                   index, via ?start=&end= query params
func NewRouter(node NodeHealth, flash FlashBlocks) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	h := &handlers{node: node, flash: flash}

	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/blocks/{index}/size", h.handleBlockSize)
	r.Get("/blocks/{index}", h.handleBlockRange)

	return r
}
