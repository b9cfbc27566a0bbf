package broadcast

import (
	"log/slog"
	"net/http"

	"golang.org/x/net/websocket"
)

// Handler exposes the hub's channels over websocket.
//
// Routes:
//
//	GET /ws/live       full station state after every mutation
//	GET /ws/incidents  threshold-crossing incidents only
//
// Subscribers that stop reading are dropped-from, never waited on.
func Handler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws/live", channelHandler(hub, ChannelLive))
	mux.Handle("/ws/incidents", channelHandler(hub, ChannelIncident))
	return mux
}

func channelHandler(hub *Hub, ch Channel) http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		defer func() {
			_ = conn.Close()
		}()

		sub := hub.Subscribe(ch, DefaultBuffer)
		defer sub.Cancel()

		slog.Debug("broadcast: subscriber connected", "channel", ch, "id", sub.ID)

		// Drain inbound frames so the connection notices client close.
		done := make(chan struct{})
		go func() {
			defer close(done)
			var discard string
			for {
				if err := websocket.Message.Receive(conn, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := websocket.Message.Send(conn, string(msg)); err != nil {
					slog.Debug("broadcast: subscriber write failed, dropping",
						"channel", ch, "id", sub.ID, "error", err)
					return
				}
			case <-done:
				return
			}
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
}
