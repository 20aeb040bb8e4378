package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/monitoring"
)

// sendBuffer is the per-session outbound queue; senders block (with a
// session-closed escape) when it fills, so slow readers throttle the turn
// instead of losing frames.
const sendBuffer = 256

var errSessionClosed = errors.New("chat session closed")

// Verifier checks the query-parameter credential. WebSocket clients cannot
// set arbitrary headers, so the token travels in the URL.
type Verifier interface {
	VerifyToken(token string) (string, error)
}

// Handler upgrades chat requests and runs the per-connection session.
type Handler struct {
	auth     Verifier
	store    Store
	orch     *Orchestrator
	lock     WriterLock
	metrics  *monitoring.Metrics
	cfg      config.ChatTuning
	upgrader websocket.Upgrader
}

func NewHandler(auth Verifier, store Store, orch *Orchestrator, lock WriterLock, metrics *monitoring.Metrics, cfg config.ChatTuning) *Handler {
	return &Handler{
		auth:    auth,
		store:   store,
		orch:    orch,
		lock:    lock,
		metrics: metrics,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token in the query string is the gate; the mobile client
			// sends no browser Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and validates it. Validation happens
// post-upgrade so the client receives a coded close frame instead of a
// failed handshake: 1003 for a malformed conversation id, 1008 for
// credential, ownership or second-writer refusals, 1011 for internal
// failures.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversation_id"]
	token := r.URL.Query().Get("token")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	if _, err := uuid.Parse(conversationID); err != nil {
		refuse(conn, websocket.CloseUnsupportedData, "invalid conversation id")
		return
	}
	userID, err := h.auth.VerifyToken(token)
	if err != nil {
		refuse(conn, websocket.ClosePolicyViolation, "authentication required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conv, err := h.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			refuse(conn, websocket.ClosePolicyViolation, "conversation not found")
		} else {
			refuse(conn, websocket.CloseInternalServerErr, "internal error")
		}
		return
	}
	if conv.UserID != userID {
		refuse(conn, websocket.ClosePolicyViolation, "conversation not accessible")
		return
	}

	owner := uuid.NewString()
	ok, err := h.lock.Acquire(ctx, conversationID, owner)
	if err != nil {
		refuse(conn, websocket.CloseInternalServerErr, "lock unavailable")
		return
	}
	if !ok {
		refuse(conn, websocket.ClosePolicyViolation, "conversation already connected")
		return
	}

	pongWait := time.Duration(h.cfg.PongWaitSeconds) * time.Second
	s := &session{
		handler:        h,
		conn:           conn,
		conversationID: conversationID,
		owner:          owner,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
		cancel:         cancel,
		writeWait:      time.Duration(h.cfg.WriteWaitSeconds) * time.Second,
		pongWait:       pongWait,
		pingPeriod:     pongWait / 2,
	}

	h.metrics.ChatConnections.Inc()
	logger.Printf("session opened for conversation %s", conversationID)

	// Two goroutines with clear ownership: writePump owns all data writes
	// (frames, pings), readPump owns all reads and runs turns inline.
	go s.writePump()
	s.readPump(ctx)
	s.close(websocket.CloseNormalClosure, "")
}

// refuse sends a coded close frame and drops the connection. Used before a
// session exists.
func refuse(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

type session struct {
	handler        *Handler
	conn           *websocket.Conn
	conversationID string
	owner          string
	send           chan []byte
	done           chan struct{}
	once           sync.Once
	cancel         context.CancelFunc

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// Send queues one frame for the write pump.
func (s *session) Send(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// close shuts the session down exactly once: coded close frame, lease
// release, in-flight turn cancellation.
func (s *session) close(code int, reason string) {
	s.once.Do(func() {
		deadline := time.Now().Add(s.writeWait)
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(s.done)
		s.cancel()
		s.conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.handler.lock.Release(ctx, s.conversationID, s.owner); err != nil {
			logger.Printf("failed to release lease for %s: %v", s.conversationID, err)
		}

		s.handler.metrics.ChatConnections.Dec()
		logger.Printf("session closed for conversation %s", s.conversationID)
	})
}

// readPump owns all reads. Turns run inline so one conversation's messages
// are strictly serialized; the read deadline is re-armed after every turn
// because pongs are not consumed while a turn runs.
func (s *session) readPump(ctx context.Context) {
	defer s.close(websocket.CloseNormalClosure, "")

	s.conn.SetReadLimit(s.handler.cfg.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Printf("read failed for conversation %s: %v", s.conversationID, err)
			}
			return
		}

		start := time.Now()
		err = s.handler.orch.Turn(ctx, s, s.conversationID, payload)
		s.handler.metrics.RecordChatTurn(err == nil, time.Since(start).Seconds())
		if err != nil {
			logger.Printf("turn failed for conversation %s: %v", s.conversationID, err)
			s.close(websocket.CloseInternalServerErr, "internal error")
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
	}
}

// writePump owns all data writes: queued frames and pings. The ping tick
// doubles as the conversation lease heartbeat.
func (s *session) writePump() {
	ticker := time.NewTicker(s.pingPeriod)
	defer func() {
		ticker.Stop()
		s.close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Printf("write failed for conversation %s: %v", s.conversationID, err)
				return
			}
			// Drain whatever queued meanwhile.
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					logger.Printf("write failed for conversation %s: %v", s.conversationID, err)
					return
				}
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			s.refreshLease()

		case <-s.done:
			return
		}
	}
}

func (s *session) refreshLease() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.handler.lock.Refresh(ctx, s.conversationID, s.owner); err != nil {
		logger.Printf("lease refresh failed for %s: %v", s.conversationID, err)
		if errors.Is(err, ErrLockLost) {
			s.close(websocket.ClosePolicyViolation, "conversation lease lost")
		}
	}
}
