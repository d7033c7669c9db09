package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gluk-w/devsync/internal/session"
)

// StreamEvents upgrades to a websocket and forwards connection events as JSON
// text messages until the client disconnects. ?hostname= limits the stream to
// one device. Events are dropped for clients that fall behind.
func StreamEvents(w http.ResponseWriter, r *http.Request) {
	filter := session.NormalizeHostname(r.URL.Query().Get("hostname"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Event stream upgrade failed")
		return
	}
	defer conn.CloseNow()

	events, cancel := Engine.Subscribe()
	defer cancel()

	// Nothing is read from the client; CloseRead cancels ctx when it leaves.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if filter != "" && ev.Hostname != filter {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
