package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const statusPollPeriod = 300 * time.Millisecond

// StatusFeed is the dev-only server-sent-events endpoint streaming live
// version and build-status changes to connected browsers.
type StatusFeed struct {
	globals *ServerGlobals
	log     logrus.FieldLogger

	// pollPeriod is overridable in tests; zero means statusPollPeriod.
	pollPeriod time.Duration
}

func NewStatusFeed(globals *ServerGlobals, log logrus.FieldLogger) *StatusFeed {
	return &StatusFeed{globals: globals, log: log}
}

// Register installs the feed at {prefix}/api/kobweb-status.
func (f *StatusFeed) Register(mux *http.ServeMux, prefixer RoutePrefixer) {
	mux.HandleFunc("GET "+prefixer.Join("api/kobweb-status"), f.serve)
}

func statusEqual(a, b *StatusState) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (f *StatusFeed) serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	period := f.pollPeriod
	if period == 0 {
		period = statusPollPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var lastVersion *int
	var lastStatus *StatusState

	// The loop is the sole writer. Write failures (client gone, server
	// shutting down) end it quietly.
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
			return
		}

		version := f.globals.Version()
		if lastVersion == nil || *lastVersion != version {
			frame := "event: version\ndata: " + strconv.Itoa(version) + "\n\n"
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			lastVersion = &version
		}

		status := f.globals.Status()
		if !statusEqual(lastStatus, status) {
			payload := StatusState{}
			if status != nil {
				payload = *status
			}
			data, err := json.Marshal(payload)
			if err != nil {
				f.log.Errorf("[status] marshal error: %v", err)
				continue
			}
			frame := "event: status\ndata: " + string(data) + "\n\n"
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			lastStatus = status
		}

		flusher.Flush()
	}
}
