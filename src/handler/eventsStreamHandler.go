package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/bus"
	"tradingcore/src/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Streaming endpoint on the same trust boundary as the REST API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

type eventBus interface {
	Subscribe(pattern string, h bus.Handler) *bus.Subscription
	Unsubscribe(sub *bus.Subscription)
}

// EventsStreamHandler returns a handler that upgrades to a websocket and
// streams bus events matching the "type" query pattern ("*" by default,
// "trading.*" for a namespace, or an exact type). A slow or dead client is
// disconnected rather than allowed to stall the bus.
func EventsStreamHandler(b eventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("type")
		if pattern == "" {
			pattern = "*"
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("websocket upgrade failed")
			return
		}
		log := logger.WithFields(logger.Fields{
			"component": "events_stream",
			"remote":    conn.RemoteAddr().String(),
			"pattern":   pattern,
		})
		log.Info("event stream opened")

		sub := b.Subscribe(pattern, func(ctx context.Context, evt model.Event) error {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return err
			}
			return conn.WriteJSON(evt)
		})

		// Reader detects disconnects; inbound messages are ignored.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					b.Unsubscribe(sub)
					if closeErr := conn.Close(); closeErr != nil {
						log.WithError(closeErr).Debug("close connection")
					}
					log.Info("event stream closed")
					return
				}
			}
		}()
	}
}
