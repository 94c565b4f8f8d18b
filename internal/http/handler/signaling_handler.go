package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/retroplay/netplay-service/internal/http/middleware"
	"github.com/retroplay/netplay-service/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 32 << 10
)

type SignalingHandler struct {
	gw       *signaling.Gateway
	upgrader websocket.Upgrader
}

func NewSignalingHandler(gw *signaling.Gateway) *SignalingHandler {
	return &SignalingHandler{
		gw: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Admission enforces the origin allow-list after the upgrade,
			// before any session state is touched.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wsConn serializes writes to a single websocket connection. Acks, relayed
// events and pings all go through the same mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Serve upgrades the connection, runs admission and then pumps client
// envelopes through the relay until the connection drops. Bearer credentials
// arrive in the Authorization header or, for browser clients, the
// access_token query parameter.
func (h *SignalingHandler) Serve(w http.ResponseWriter, r *http.Request) {
	bearer := middleware.BearerToken(r)
	if bearer == "" {
		bearer = r.URL.Query().Get("access_token")
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	wsc := &wsConn{conn: conn}

	peer, err := h.gw.Admit(r.Context(), signaling.AdmitRequest{
		BearerToken: bearer,
		Origin:      r.Header.Get("Origin"),
		SessionID:   chi.URLParam(r, "session_id"),
		PeerToken:   r.URL.Query().Get("peer_token"),
		RemoteAddr:  r.RemoteAddr,
		Conn:        wsc,
	})
	if err != nil {
		_ = wsc.Send(signaling.RejectedAck(err))
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := wsc.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	defer func() {
		close(done)
		h.gw.Disconnect(context.WithoutCancel(r.Context()), peer)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(r.Context(), "signaling connection error",
					"session_id", peer.SessionID, "participant_id", peer.ParticipantID, "error", err)
			}
			return
		}
		ack := h.gw.Relay(r.Context(), peer, raw)
		if err := wsc.Send(ack); err != nil {
			return
		}
	}
}
