package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"campuschat/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the auth middleware in front
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientFrame is what a connected session may send upstream. Everything a
// client can do over the socket is ephemeral; mutations go through HTTP.
type clientFrame struct {
	Action   string `json:"action"` // subscribe | unsubscribe | typing | stop_typing
	Room     string `json:"room"`
	UserName string `json:"user_name,omitempty"`
}

// MemberOf gates room subscriptions to actual participants.
type MemberOf func(roomID, userID string) bool

// ServeWS upgrades the request and runs the session pumps until the
// connection drops.
func ServeWS(h *Hub, member MemberOf, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", userID, "err", err)
		return
	}
	s := h.Attach(userID)
	logger.Info("ws_attached", "user", userID)

	go writePump(conn, s)
	readPump(conn, h, s, member)
}

func readPump(conn *websocket.Conn, h *Hub, s *Session, member MemberOf) {
	defer func() {
		h.Detach(s)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("ws_read_failed", "user", s.UserID, "err", err)
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		switch f.Action {
		case "subscribe":
			if f.Room != "" && (member == nil || member(f.Room, s.UserID)) {
				s.Subscribe(f.Room)
			}
		case "unsubscribe":
			if f.Room != "" {
				s.Unsubscribe(f.Room)
			}
		case "typing":
			if f.Room != "" {
				h.RelayTyping(f.Room, s.UserID, f.UserName, false)
			}
		case "stop_typing":
			if f.Room != "" {
				h.RelayTyping(f.Room, s.UserID, "", true)
			}
		}
	}
}

func writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-s.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
