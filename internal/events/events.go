package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeFlowChanged         = "flow.changed"
	TypeImageReceived       = "image.received"
	TypeImagesCleared       = "images.cleared"
	TypeNotice              = "notice"
	TypeAnalysisStarted     = "analysis.started"
	TypeAnalysisProgress    = "analysis.progress"
	TypeAnalysisCompleted   = "analysis.completed"
	TypeAnalysisFailed      = "analysis.failed"
	TypeReportFilterChanged = "report.filter.changed"
	TypeBotChanged          = "bot.changed"
)

const historySize = 64

type Event struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

type subscriber struct {
	filters []string
}

// Broker fans events out to subscribers without blocking the publisher. A
// subscriber that falls behind loses events; History lets it catch up.
type Broker struct {
	mu          sync.RWMutex
	seq         int64
	history     []Event
	subscribers map[chan Event]subscriber
	now         func() time.Time
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[chan Event]subscriber{},
		now:         time.Now,
	}
}

// Subscribe delivers events whose type equals or starts with one of filters,
// or every event when filters is empty. The channel closes when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, filters ...string) <-chan Event {
	ch := make(chan Event, 16)
	normalized := make([]string, 0, len(filters))
	for _, filter := range filters {
		if filter = NormalizeType(filter); filter != "" {
			normalized = append(normalized, filter)
		}
	}

	b.mu.Lock()
	b.subscribers[ch] = subscriber{filters: normalized}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (s subscriber) wants(eventType string) bool {
	if len(s.filters) == 0 {
		return true
	}
	for _, filter := range s.filters {
		if strings.HasPrefix(eventType, filter) {
			return true
		}
	}
	return false
}

// Publish stamps the event with a sequence number, timestamp and trace id
// when missing, and returns the stamped event.
func (b *Broker) Publish(event Event) Event {
	event.Type = NormalizeType(event.Type)
	if event.TraceID == "" {
		event.TraceID = uuid.NewString()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	// Stamping and fan-out share one critical section so subscribers see
	// sequence numbers in order. Sends never block.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	event.Seq = b.seq
	if event.Ts == "" {
		event.Ts = b.now().UTC().Format(time.RFC3339Nano)
	}
	b.history = append(b.history, event)
	if len(b.history) > historySize {
		b.history = append([]Event(nil), b.history[len(b.history)-historySize:]...)
	}

	for ch, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// History returns retained events with Seq greater than after.
func (b *Broker) History(after int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.history))
	for _, event := range b.history {
		if event.Seq > after {
			out = append(out, event)
		}
	}
	return out
}
