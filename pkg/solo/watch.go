// ABOUTME: Websocket watcher for the daemon's live event feed
// ABOUTME: Delivers the hello snapshot and subsequent deltas on a channel
package solo

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Watcher is an open event feed. Events carries the hello frame first,
// then deltas, and closes when the feed ends; check Err afterwards to
// tell shutdowns from failures.
type Watcher struct {
	// Events delivers feed frames in arrival order.
	Events <-chan Event

	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	readErr error

	closeOnce sync.Once
}

// Watch opens the event feed. The context governs dialing only; the
// feed stays open until Close or a connection error.
func (c *Client) Watch(ctx context.Context) (*Watcher, error) {
	u := url.URL{Scheme: "ws", Host: c.config.Addr, Path: "/api/v1/events"}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	resp.Body.Close()

	events := make(chan Event, 16)
	w := &Watcher{
		Events: events,
		conn:   conn,
		events: events,
		done:   make(chan struct{}),
	}
	go w.read()
	return w, nil
}

// Err reports why the feed ended. It is nil after a local Close or a
// clean shutdown by the daemon, and stable once Events is closed.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readErr
}

// Close tears the feed down. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
		w.conn.Close()
	})
	return nil
}

func (w *Watcher) read() {
	defer close(w.events)

	for {
		var ev Event
		if err := w.conn.ReadJSON(&ev); err != nil {
			w.mu.Lock()
			// The daemon says going-away on shutdown; neither that nor a
			// local Close counts as a failure.
			if !w.closed && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.readErr = err
			}
			w.mu.Unlock()
			return
		}

		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
	}
}
