package main

import (
	"net/http"

	rssmill "github.com/rbarrimond/rssmill"
)

// newRouter sets up all routes using Go 1.22+ enhanced routing.
func newRouter(engine *rssmill.Engine) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{engine: engine}

	mux.HandleFunc("POST /rss/run", h.handleRun)
	mux.HandleFunc("POST /rss/enqueue", h.handleEnqueue)
	mux.HandleFunc("POST /rss/collect", h.handleCollect)
	mux.HandleFunc("POST /rss/summarize", h.handleSummarize)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	return mux
}
