package spectator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"broadside.gg/internal/protocol"
	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
)

var ErrRemote = errors.New("spectator server error")

// Follow mirrors a remote match into l, starting at l.Len(), until the remote
// reports the match over or ctx ends. l's cursor must stay at its tail.
func Follow(ctx context.Context, url, matchID string, l *eventlog.Log, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("follow").With(zap.String("match_id", matchID))
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("dial %s: %w: %s", url, ErrRemote, protocol.ErrRateLimit)
		}
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := writeJSON(conn, protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		MatchID:         matchID,
		Since:           l.Len(),
	}); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeEvent:
			var em protocol.EventMsg
			if err := json.Unmarshal(msg, &em); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			ev, err := event.Unmarshal(em.Event)
			if err != nil {
				return err
			}
			at := em.At
			if at.IsZero() {
				at = time.Now()
			}
			if err := l.AppendAt(em.Index, at, ev); err != nil {
				return fmt.Errorf("mirror entry %d: %w", em.Index, err)
			}
		case protocol.TypeStatus:
			var sm protocol.StatusMsg
			if err := json.Unmarshal(msg, &sm); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			logger.Debug("remote status", zap.Int("len", sm.Len), zap.Bool("ended", sm.Ended))
			if sm.Ended && l.Len() >= sm.Len {
				return nil
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return fmt.Errorf("%w: %s %s", ErrRemote, e.Code, e.Message)
		}
	}
}
