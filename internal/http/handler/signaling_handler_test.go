package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/retroplay/netplay-service/internal/repository"
	"github.com/retroplay/netplay-service/internal/security"
	"github.com/retroplay/netplay-service/internal/service"
	"github.com/retroplay/netplay-service/internal/signaling"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const wsTestOrigin = "https://play.example.com"

type wsStack struct {
	server *httptest.Server
	jwt    *security.JWTManager
	svc    *service.NetplayService
}

func newWSStack(t *testing.T) *wsStack {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.NewNetplayRepository(db)
	tokens := security.NewPeerTokenAuthority("test-pepper")
	svc := service.NewNetplayService(repo, tokens, service.NewQuotaEnforcer(repo, 10, 100), 30*time.Minute)
	jwtMgr := security.NewJWTManager("netplay", "netplay-api", "secret")
	gw := signaling.NewGateway(svc, repo, jwtMgr, signaling.NewMemoryRegistry(), nil, []string{wsTestOrigin})

	r := chi.NewRouter()
	r.Get("/api/v1/signaling/{session_id}", NewSignalingHandler(gw).Serve)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &wsStack{server: server, jwt: jwtMgr, svc: svc}
}

func (s *wsStack) dial(t *testing.T, userID, sessionID, peerToken string) *websocket.Conn {
	t.Helper()
	conn, err := s.dialRaw(t, userID, sessionID, peerToken)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *wsStack) dialRaw(t *testing.T, userID, sessionID, peerToken string) (*websocket.Conn, error) {
	t.Helper()
	bearer, err := s.jwt.Sign(userID, "player", time.Minute)
	if err != nil {
		t.Fatalf("sign bearer: %v", err)
	}
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") +
		"/api/v1/signaling/" + sessionID + "?peer_token=" + peerToken
	header := http.Header{}
	header.Set("Authorization", "Bearer "+bearer)
	header.Set("Origin", wsTestOrigin)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	return conn, err
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var v map[string]any
	if err := conn.ReadJSON(&v); err != nil {
		t.Fatalf("read: %v", err)
	}
	return v
}

func TestSignalingOverWebsocket(t *testing.T) {
	s := newWSStack(t)
	ctx := context.Background()

	created, err := s.svc.CreateSession(ctx, "host", "rom-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.svc.Invite(ctx, created.Session.ID, "host", "guest"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	joined, err := s.svc.Join(ctx, created.Session.ID, "guest")
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	hostConn := s.dial(t, "host", created.Session.ID, created.PeerToken)
	admitted := readJSON(t, hostConn)
	if admitted["event"] != "signal:admitted" || admitted["sessionId"] != created.Session.ID {
		t.Fatalf("unexpected admitted event: %v", admitted)
	}

	guestConn := s.dial(t, "guest", created.Session.ID, joined.PeerToken)
	if admitted := readJSON(t, guestConn); admitted["event"] != "signal:admitted" {
		t.Fatalf("unexpected admitted event: %v", admitted)
	}

	offer := map[string]any{
		"type":         "offer",
		"payload":      map[string]any{"sdp": "v=0"},
		"targetUserId": "guest",
	}
	if err := hostConn.WriteJSON(offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}

	ack := readJSON(t, hostConn)
	if ack["status"] != "ok" {
		t.Fatalf("expected ok ack, got %v", ack)
	}
	event := readJSON(t, guestConn)
	if event["event"] != "signal:message" || event["type"] != "offer" {
		t.Fatalf("unexpected relayed event: %v", event)
	}
	sender, _ := event["sender"].(map[string]any)
	if sender["userId"] != "host" {
		t.Fatalf("sender not identified: %v", event)
	}
}

func TestWebsocketRejectsBadPeerToken(t *testing.T) {
	s := newWSStack(t)
	created, err := s.svc.CreateSession(context.Background(), "host", "rom-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn, err := s.dialRaw(t, "host", created.Session.ID, strings.Repeat("0", 64))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The connection upgrades, then admission fails with a terminal ack.
	rejected := readJSON(t, conn)
	if rejected["status"] != "error" || rejected["message"] != "session unavailable" {
		t.Fatalf("unexpected rejection: %v", rejected)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection must close after a rejected admission")
	}
}

func TestWebsocketMalformedEnvelopeGetsErrorAck(t *testing.T) {
	s := newWSStack(t)
	created, err := s.svc.CreateSession(context.Background(), "host", "rom-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := s.dial(t, "host", created.Session.ID, created.PeerToken)
	readJSON(t, conn) // admitted

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readJSON(t, conn)
	if ack["status"] != "error" {
		t.Fatalf("expected error ack, got %v", ack)
	}

	// The connection survives a malformed envelope.
	if err := conn.WriteJSON(map[string]any{"type": "ice-candidate", "payload": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readJSON(t, conn); ack["status"] != "ok" {
		t.Fatalf("expected ok ack after recovery, got %v", ack)
	}
}

func TestWebsocketDisconnectRecordsParticipant(t *testing.T) {
	s := newWSStack(t)
	ctx := context.Background()
	created, err := s.svc.CreateSession(ctx, "host", "rom-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := s.dial(t, "host", created.Session.ID, created.PeerToken)
	readJSON(t, conn) // admitted
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		sessions, err := s.svc.ListActiveSessions(ctx, "host")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(sessions) == 1 && len(sessions[0].Participants) == 1 &&
			sessions[0].Participants[0].Status == "disconnected" {
			return
		}
		if time.Now().After(deadline) {
			marshaled, _ := json.Marshal(sessions)
			t.Fatalf("participant never marked disconnected: %s", marshaled)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
