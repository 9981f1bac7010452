// Package realtime consumes the backend's row-level change feed and
// republishes it on the in-process bus under the "rt." namespace.
//
// Delivery order within a conversation is preserved by the feed; this package
// keeps it by publishing from a single read loop. Ordering across
// conversations carries no guarantee.
package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/opencomm/opdesk/internal/bus"
	"github.com/opencomm/opdesk/internal/status"
	"go.uber.org/zap"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	// degradedAfter consecutive dial failures flips the link to Degraded;
	// the console keeps working off the REST API.
	degradedAfter = 3
)

// Source maintains the websocket connection to the realtime feed.
type Source struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewSource creates a realtime source. Start must be called to connect.
func NewSource(url, token string, b *bus.Bus, m *status.Machine, logger *zap.Logger) *Source {
	return &Source{url: url, token: token, bus: b, machine: m, logger: logger}
}

// Start connects in the background and keeps reconnecting until Stop.
func (s *Source) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop terminates the connection and the reconnect loop.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.machine.Transition(status.Closed)
}

func (s *Source) run(ctx context.Context) {
	backoff := initialBackoff
	failures := 0

	for ctx.Err() == nil {
		_ = s.machine.Transition(status.Connecting)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+s.token)
		conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: header})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Warn("realtime dial failed",
				zap.Error(err), zap.Int("failures", failures), zap.Duration("backoff", backoff))
			if failures >= degradedAfter {
				_ = s.machine.Transition(status.Degraded)
			} else {
				_ = s.machine.Transition(status.Reconnecting)
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		failures = 0
		backoff = initialBackoff
		_ = s.machine.Transition(status.Live)
		s.logger.Info("realtime feed connected")

		err = s.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("realtime feed dropped", zap.Error(err))
		_ = s.machine.Transition(status.Reconnecting)
	}
}

func (s *Source) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		payload, kind, err := decodeFrame(data)
		if err != nil {
			// A malformed frame is the backend's bug, not a reason to
			// drop the connection.
			s.logger.Warn("bad realtime frame", zap.Error(err))
			continue
		}
		s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	}
}
