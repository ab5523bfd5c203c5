package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/borsabridge/control-plane/internal/events"
)

// streamEvents replays retained events after the client's last seen sequence,
// then follows the live stream. ?types= takes comma separated type prefixes.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	broker := s.session.Broker()
	filters := parseTypeFilters(r.URL.Query().Get("types"))
	eventsChan := broker.Subscribe(ctx, filters...)

	lastSeq := parseAfterSeq(r)
	for _, event := range broker.History(lastSeq) {
		if !matchesFilters(event.Type, filters) {
			continue
		}
		sendSSE(w, event)
		lastSeq = event.Seq
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			sendSSE(w, event)
			lastSeq = event.Seq
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.Event) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\n", event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func parseTypeFilters(raw string) []string {
	var filters []string
	for _, part := range strings.Split(raw, ",") {
		if part = events.NormalizeType(part); part != "" {
			filters = append(filters, part)
		}
	}
	return filters
}

func matchesFilters(eventType string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		if strings.HasPrefix(eventType, filter) {
			return true
		}
	}
	return false
}

func parseAfterSeq(r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam == "" {
		afterParam = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if afterParam == "" {
		return 0
	}
	seq, err := strconv.ParseInt(afterParam, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
