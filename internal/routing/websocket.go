package routing

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// every origin is allowed, matching the cors policy of the api.
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWebsocket pushes a single CompletionMessage once the compilation is
// finished and closes the connection.
func (h *CompilerHandlers) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	pending, ok := h.lookup(w, r)

	if !ok {
		return
	}

	id := pending.ID.String()

	conn, err := upgrader.Upgrade(w, r, nil)

	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("failed to upgrade websocket")
		return
	}

	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the client never sends anything, reading only notices it going away.
	go func() {
		defer cancel()

		for {
			if _, _, readErr := conn.NextReader(); readErr != nil {
				return
			}
		}
	}()

	record, err := h.Manager.Await(ctx, pending.ID)

	if err != nil {
		log.Debug().Err(err).Str("id", id).Msg("websocket closed before completion")
		return
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := conn.WriteJSON(newCompletionMessage(record)); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("failed to write completion message")
		return
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
