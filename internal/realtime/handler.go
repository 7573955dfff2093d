package realtime

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler upgrades requests to websockets and serves them with h.
// An empty allowedOrigins accepts any origin.
func Handler(h *Host, opts WSOptions, allowedOrigins []string) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
			return
		}
		ch := NewWSChannel(conn, opts)
		if err := h.Serve(r.Context(), ch); err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Connection ended with error")
		}
	})
}
