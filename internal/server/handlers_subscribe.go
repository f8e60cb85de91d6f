package server

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/storage"
)

const (
	sseKeepalive  = 15 * time.Second
	sseRetryDelay = 3 * time.Second
)

// HandleSubscribe handles GET /v1/subscribe, a server-sent event stream of
// recorded facts and escalated conflicts. The optional channels parameter is
// a comma-separated subset of the store channels.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not available")
		return
	}
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
			Code:    model.ErrCodeInvalidInput,
			Message: err.Error(),
			Details: map[string]string{"field": "channels"},
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	// Subscribe before the 200 goes out so the client cannot miss an event
	// published in between.
	events := h.broker.Subscribe(channels...)
	defer h.broker.Unsubscribe(events)

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", sseRetryDelay.Milliseconds())
	flusher.Flush()

	// The stream outlives the server's WriteTimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	tick := time.NewTicker(sseKeepalive)
	defer tick.Stop()

	for {
		var chunk []byte
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			chunk = []byte(":keepalive\n\n")
		case ev, open := <-events:
			if !open {
				return
			}
			chunk = ev
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		flusher.Flush()
	}
}

// parseChannels splits a channels query value. Empty means every channel.
func parseChannels(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if !slices.Contains(storage.Channels, c) {
			return nil, fmt.Errorf("unknown channel %q; expected one of %s", c, strings.Join(storage.Channels, ", "))
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out, nil
}
