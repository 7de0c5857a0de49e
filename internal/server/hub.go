package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"screen-recorder/internal/session"
	"screen-recorder/pkg/models"
)

const (
	clientQueue  = 256
	writeTimeout = 2 * time.Second
)

// EventHub fans session notifications out to websocket clients and
// in-process subscribers. Broadcast never blocks; slow consumers lose events.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan models.Event

	lmu       sync.RWMutex
	listeners map[chan models.Event]struct{}
}

var _ session.Listener = (*EventHub)(nil)

func NewEventHub(logger *zerolog.Logger) *EventHub {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	return &EventHub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:    l,
		now:       time.Now,
		clients:   make(map[*websocket.Conn]chan models.Event),
		listeners: make(map[chan models.Event]struct{}),
	}
}

func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	queue := make(chan models.Event, clientQueue)
	h.mu.Lock()
	h.clients[c] = queue
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("event client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range queue {
			_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	// keepalive reads to detect client close
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(queue)
	<-done
	_ = c.Close()
}

func (h *EventHub) Broadcast(ev models.Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now().UTC()
	}
	h.mu.RLock()
	for _, q := range h.clients {
		select {
		case q <- ev:
		default:
		}
	}
	h.mu.RUnlock()

	h.lmu.RLock()
	for ch := range h.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	h.lmu.RUnlock()
}

// Subscribe returns a channel receiving events. Caller must Unsubscribe.
func (h *EventHub) Subscribe() chan models.Event {
	ch := make(chan models.Event, clientQueue)
	h.lmu.Lock()
	h.listeners[ch] = struct{}{}
	h.lmu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan models.Event) {
	h.lmu.Lock()
	if _, ok := h.listeners[ch]; ok {
		delete(h.listeners, ch)
		close(ch)
	}
	h.lmu.Unlock()
}

func (h *EventHub) RecordingStarted() {
	h.Broadcast(models.Event{Type: models.EventRecordingStarted})
}

func (h *EventHub) RecordingStopped(path string) {
	h.Broadcast(models.Event{Type: models.EventRecordingStopped, Path: path})
}

func (h *EventHub) StateChanged(state session.State) {
	h.Broadcast(models.Event{Type: models.EventStateChanged, State: state.String()})
}

func (h *EventHub) NeedCaptureGrant() {
	h.Broadcast(models.Event{Type: models.EventNeedCaptureGrant})
}

func (h *EventHub) NeedRecorderSetup() {
	h.Broadcast(models.Event{Type: models.EventNeedRecorderSetup})
}

func (h *EventHub) SetupFailed(err error) {
	h.Broadcast(models.Event{Type: models.EventSetupFailed, Error: err.Error()})
}
