package main

import (
	"encoding/json"
	"log"
	"net/http"

	rssmill "github.com/rbarrimond/rssmill"
)

// handlers holds dependencies for all HTTP handler methods.
type handlers struct {
	engine *rssmill.Engine
}

type statusResponse struct {
	Status string `json:"status"`
	Detail any    `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, resp statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func writeOK(w http.ResponseWriter, detail any) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Detail: detail})
}

func writeFailure(w http.ResponseWriter, err error) {
	log.Printf("rssmill-web: %v", err)
	writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Error: err.Error()})
}

// handleRun triggers one full poll, ingest, and enrich pass.
func (h *handlers) handleRun(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.RunChain(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w, stats)
}

// handleEnqueue runs the polling stage only.
func (h *handlers) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Poll(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w, nil)
}

// handleCollect drains the feed queue, ingesting every enqueued URL.
func (h *handlers) handleCollect(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.IngestQueued(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w, map[string]int{"feeds_ingested": n})
}

// handleSummarize drains the entry queue, enriching every batch.
func (h *handlers) handleSummarize(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.EnrichQueued(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOK(w, map[string]int{"batches_enriched": n})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, nil)
}
