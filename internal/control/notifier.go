package control

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Notifier fans event frames out to every registered notification
// stream. A stream that fails a write is dropped on the spot; clients
// that vanish without closing are cleaned up by their next miss.
type Notifier struct {
	mu      sync.Mutex
	streams map[int]io.Writer
	nextID  int
}

func NewNotifier() *Notifier {
	return &Notifier{streams: make(map[int]io.Writer)}
}

// Register adds a stream and returns its removal function.
func (n *Notifier) Register(w io.Writer) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.streams[id] = w

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.streams, id)
	}
}

func (n *Notifier) StreamCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.streams)
}

// Broadcast serializes one server-sent event and writes it to every
// stream.
func (n *Notifier) Broadcast(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("notification marshal failed")
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, payload))

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, w := range n.streams {
		if _, err := w.Write(frame); err != nil {
			delete(n.streams, id)
		}
	}
}
