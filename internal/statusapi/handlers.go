package statusapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ourair/sensorlog/internal/flashring"
	"github.com/ourair/sensorlog/internal/node"
)

// NodeHealth is the subset of node.Node the status API needs for /healthz.
type NodeHealth interface {
	Health() node.HealthStatus
}

// FlashBlocks is the subset of flashring.Ring the status API needs to serve
// block-size and block-range queries.
type FlashBlocks interface {
	BlockSize(requestedIndex uint32) (size, index uint32, err error)
	BlockRange(index, start, end uint32, dst []byte) error
}

type handlers struct {
	node  NodeHealth
	flash FlashBlocks
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealthz responds to GET /healthz with a liveness and RAM-depth
// snapshot. No authentication: intended for load-balancer probes.
func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.node.Health())
}

func parseIndexParam(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "index")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// handleBlockSize responds to GET /blocks/{index}/size with the size and
// actual index of the most recent block at or before the requested index
// that is still held on flash.
func (h *handlers) handleBlockSize(w http.ResponseWriter, r *http.Request) {
	requested, err := parseIndexParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	size, index, err := h.flash.BlockSize(requested)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]uint32{"size": size, "index": index})
}

// handleBlockRange responds to GET /blocks/{index}?start=&end= with the raw
// bytes of that block's [start, end) range. Returns 404 if the index is no
// longer present on flash, 400 on a malformed range.
func (h *handlers) handleBlockRange(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndexParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be a non-negative integer")
		return
	}

	q := r.URL.Query()
	start, serr1 := strconv.ParseUint(q.Get("start"), 10, 32)
	end, serr2 := strconv.ParseUint(q.Get("end"), 10, 32)
	if serr1 != nil || serr2 != nil || end <= start {
		writeError(w, http.StatusBadRequest, "'start' and 'end' must be integers with end > start")
		return
	}

	dst := make([]byte, end-start)
	if err := h.flash.BlockRange(index, uint32(start), uint32(end), dst); err != nil {
		if errors.Is(err, flashring.ErrBlockNotFound) {
			writeError(w, http.StatusNotFound, "block not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dst)
}
