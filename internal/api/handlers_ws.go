package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gcu-merk/edge-traffic-monitor/internal/broadcaster"
)

const (
	pingInterval   = 30 * time.Second
	sendQueueHWM   = 256
	missedPingsMax = 2
)

// handleEventsStream implements spec's /events/stream: on connect the
// connection is subscribed to traffic:persisted, each broker message is
// forwarded as a JSON text frame, and a ping/pong heartbeat closes
// connections that miss two consecutive pings.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cors.AllowedOrigins,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	subID, ch := s.b.Subscribe(broadcaster.ChannelPersisted)
	defer s.b.Unsubscribe(broadcaster.ChannelPersisted, subID)

	log := s.log.WithEvent("ws_stream_connected")
	log.Info().Msg("client connected to event stream")
	defer log.Info().Msg("client disconnected from event stream")

	queue := make(chan []byte, sendQueueHWM)
	overflowed := false

	go pumpBrokerMessages(ctx, ch, queue, &overflowed)

	missedPings := 0
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				missedPings++
				if missedPings >= missedPingsMax {
					conn.Close(websocket.StatusPolicyViolation, "missed heartbeat")
					return
				}
				continue
			}
			missedPings = 0
		case payload, ok := <-queue:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// pumpBrokerMessages drains the broker subscription into queue,
// dropping the oldest queued frame and sending a single overflow
// notice once the queue's high-water mark is exceeded, per spec's
// backpressure policy.
func pumpBrokerMessages(ctx context.Context, ch <-chan []byte, queue chan []byte, overflowed *bool) {
	for {
		select {
		case <-ctx.Done():
			close(queue)
			return
		case payload, ok := <-ch:
			if !ok {
				close(queue)
				return
			}
			select {
			case queue <- payload:
				*overflowed = false
			default:
				select {
				case <-queue:
				default:
				}
				if !*overflowed {
					*overflowed = true
					select {
					case queue <- []byte(`{"type":"overflow"}`):
					default:
					}
				}
				select {
				case queue <- payload:
				default:
				}
			}
		}
	}
}
