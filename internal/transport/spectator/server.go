// Package spectator streams match event logs to websocket clients and mirrors
// remote matches into local logs.
package spectator

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/state"
)

// Source is whatever knows the matches being served, usually the arena.
type Source interface {
	List() []protocol.MatchSummary
	Lookup(matchID string) (*eventlog.Log, error)
}

type Options struct {
	Logger *zap.Logger
	// LoopbackOnly refuses clients that are not on this host.
	LoopbackOnly bool
	// Per client IP: new connections or list requests per second, and burst.
	RatePerSec float64
	Burst      int
	// Events sent per batch while catching up.
	Batch int
	// MaxClients caps the tracked client IPs; limiters idle longer than
	// ClientIdle are dropped first, then the least recently seen.
	MaxClients int
	ClientIdle time.Duration
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	src    Source
	opts   Options
	logger *zap.Logger

	upgrader websocket.Upgrader

	limMu    sync.Mutex
	limiters map[string]*clientLimiter
	now      func() time.Time
}

func NewServer(src Source, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Batch <= 0 {
		opts.Batch = 256
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 4096
	}
	if opts.ClientIdle <= 0 {
		opts.ClientIdle = 10 * time.Minute
	}
	return &Server{
		src:    src,
		opts:   opts,
		logger: opts.Logger.Named("spectator"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limiters: map[string]*clientLimiter{},
		now:      time.Now,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/matches", s.MatchesHandler())
	mux.HandleFunc("/v1/spectate", s.WSHandler())
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	now := s.now()
	c, ok := s.limiters[ip]
	if !ok {
		if len(s.limiters) >= s.opts.MaxClients {
			s.evictLocked(now)
		}
		c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(s.opts.RatePerSec), s.opts.Burst)}
		s.limiters[ip] = c
	}
	c.lastSeen = now
	return c.lim
}

// evictLocked drops idle limiters, or the least recently seen one if none are idle.
func (s *Server) evictLocked(now time.Time) {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, c := range s.limiters {
		if now.Sub(c.lastSeen) > s.opts.ClientIdle {
			delete(s.limiters, ip)
			continue
		}
		if oldestIP == "" || c.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, c.lastSeen
		}
	}
	if len(s.limiters) >= s.opts.MaxClients && oldestIP != "" {
		delete(s.limiters, oldestIP)
	}
}

// admit applies the loopback and rate checks and writes the refusal itself.
func (s *Server) admit(rw http.ResponseWriter, r *http.Request) bool {
	host := remoteHost(r.RemoteAddr)
	if s.opts.LoopbackOnly {
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return false
		}
	}
	if !s.limiter(host).Allow() {
		writeHTTPError(rw, http.StatusTooManyRequests, protocol.ErrRateLimit, "slow down")
		return false
	}
	return true
}

func (s *Server) MatchesHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.admit(rw, r) {
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.src.List())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.admit(rw, r) {
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Type != protocol.TypeSubscribe {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}
		if sub.ProtocolVersion != protocol.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
			return
		}
		l, err := s.src.Lookup(sub.MatchID)
		if err != nil {
			_ = writeJSON(conn, protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: protocol.ErrMatchNotFound, Message: sub.MatchID})
			closeWith(conn, websocket.CloseNormalClosure, "unknown match")
			return
		}
		if sub.Since < 0 {
			sub.Since = 0
		}

		sid := uuid.New().String()
		logger := s.logger.With(zap.String("session", sid), zap.String("match_id", sub.MatchID))
		logger.Debug("spectator subscribed", zap.Int("since", sub.Since))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		// Reader: nothing else is expected from the client; a read error means it left.
		go func() {
			defer cancel()
			for {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		err = s.stream(ctx, conn, l, sub)
		switch {
		case err == nil:
			closeWith(conn, websocket.CloseNormalClosure, "match over")
		case errors.Is(err, context.Canceled):
		default:
			logger.Debug("spectator stream ended", zap.Error(err))
		}
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, l *eventlog.Log, sub protocol.SubscribeMsg) error {
	pos := sub.Since
	announced := false
	for {
		for {
			batch := l.Since(pos, s.opts.Batch)
			if len(batch) == 0 {
				break
			}
			for _, e := range batch {
				raw, err := event.Marshal(e.Event)
				if err != nil {
					return err
				}
				if err := writeJSON(conn, protocol.EventMsg{
					Type:            protocol.TypeEvent,
					ProtocolVersion: protocol.Version,
					MatchID:         sub.MatchID,
					Index:           e.Index,
					At:              e.At,
					Event:           raw,
					Message:         e.Event.String(),
				}); err != nil {
					return err
				}
			}
			pos += len(batch)
		}

		var ended bool
		n := l.Len()
		l.View(func(st *state.State, _ int) { ended = st.Ended })
		if ended && pos >= n {
			return writeJSON(conn, protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, MatchID: sub.MatchID, Len: n, Ended: true})
		}
		if !announced && pos >= n {
			announced = true
			if err := writeJSON(conn, protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, MatchID: sub.MatchID, Len: n}); err != nil {
				return err
			}
		}
		if _, err := l.Wait(ctx, pos); err != nil {
			return err
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeHTTPError(rw http.ResponseWriter, status int, code, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: msg})
}

func remoteHost(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	return strings.TrimSuffix(host, "]")
}
