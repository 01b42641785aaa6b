package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/calvinalkan/sheetfs/internal/sheets"
)

const (
	wsBuffer       = 64
	wsWriteTimeout = 5 * time.Second
)

// handleWebSocket streams every service event to the client as one JSON
// text message. The first message is {"kind":"ready"}. Client messages are
// read and discarded so close frames are noticed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.log.Printf("websocket upgrade failed: %v", err)

		return
	}

	defer func() { _ = conn.CloseNow() }()

	events, cancel := s.svc.Events().Subscribe(wsBuffer)
	defer cancel()

	// CloseRead cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	err = writeMessage(ctx, conn, sheets.Event{Kind: "ready", At: time.Now().UTC()})
	if err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")

				return
			}

			err = writeMessage(ctx, conn, ev)
			if err != nil {
				s.log.Printf("websocket write: %v", err)

				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, ev sheets.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}
