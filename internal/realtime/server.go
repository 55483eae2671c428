package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teatribe/tribes/internal/model"
	"github.com/teatribe/tribes/internal/token"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	readLimit  = 4 * 1024
)

// MembershipChecker answers whether an account may join a tribe group.
type MembershipChecker interface {
	IsMember(ctx context.Context, tribeID, accountID uuid.UUID) (bool, error)
}

// AccountLookup resolves the connecting account.
type AccountLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Account, error)
}

// command is a client frame.
type command struct {
	Type    string `json:"type"`
	TribeID string `json:"tribeId"`
}

// Server exposes the hub over websocket.
type Server struct {
	hub      *Hub
	tokens   *token.Manager
	members  MembershipChecker
	accounts AccountLookup
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(hub *Hub, tokens *token.Manager, members MembershipChecker, accounts AccountLookup, log *zap.Logger) *Server {
	return &Server{
		hub:      hub,
		tokens:   tokens,
		members:  members,
		accounts: accounts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// clients are native apps; browsers are not served
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Handler returns the HTTP routes: /hub (websocket) and /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/hub", s.handleHub)
	return r
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("access_token")
}

func (s *Server) handleHub(w http.ResponseWriter, r *http.Request) {
	id, err := s.tokens.Parse(bearer(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := s.accounts.Get(r.Context(), id.AccountID)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(acc.ID, acc.PublicKey)
	s.log.Debug("hub connected", zap.Stringer("account", c.accountID))
	go s.writeLoop(conn, c)
	s.readLoop(r.Context(), conn, c)
	s.hub.drop(c)
	s.log.Debug("hub disconnected", zap.Stringer("account", c.accountID))
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	defer conn.Close()
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		switch cmd.Type {
		case "joinGroup":
			s.joinGroup(ctx, c, cmd.TribeID)
		case "leaveGroup":
			s.hub.leave(c, cmd.TribeID)
		}
	}
}

// joinGroup subscribes c to a tribe it belongs to. Other requests are ignored.
func (s *Server) joinGroup(ctx context.Context, c *client, tribe string) {
	tribeID, err := uuid.FromString(tribe)
	if err != nil {
		return
	}
	ok, err := s.members.IsMember(ctx, tribeID, c.accountID)
	if err != nil {
		s.log.Warn("hub join group", zap.Stringer("tribe", tribeID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	s.hub.join(c, tribeID.String())
	s.enqueue(c, Envelope{Type: "joined", Data: map[string]string{"tribeId": tribeID.String()}})
}

// enqueue sends a direct reply to c, dropping it when the buffer is full.
func (s *Server) enqueue(c *client, env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		s.hub.dropLocked(c)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
