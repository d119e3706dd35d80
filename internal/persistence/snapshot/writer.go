package snapshot

import (
	"go.uber.org/zap"

	"broadside.gg/internal/sim/event"
	"broadside.gg/internal/sim/eventlog"
	"broadside.gg/internal/sim/state"
)

// Writer is an eventlog sink that stores a snapshot after every round end and
// after the match end.
type Writer struct {
	dataDir string
	matchID string
	logger  *zap.Logger

	// OnWritten, if set, is told about each stored snapshot.
	OnWritten func(h Header, path string)
}

func NewWriter(dataDir, matchID string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		dataDir: dataDir,
		matchID: matchID,
		logger:  logger.Named("snapshot").With(zap.String("match_id", matchID)),
	}
}

func (w *Writer) OnEvent(e eventlog.Entry, st *state.State) {
	switch e.Event.(type) {
	case event.RoundEnd, event.MatchEnd:
	default:
		return
	}
	snap := New(st, e.Index+1)
	path := Path(w.dataDir, w.matchID, snap.Header.Index)
	if err := WriteSnapshot(path, snap); err != nil {
		w.logger.Warn("snapshot failed", zap.Int("index", snap.Header.Index), zap.Error(err))
		return
	}
	w.logger.Debug("snapshot written", zap.Int("index", snap.Header.Index), zap.Int("round", snap.Header.Round))
	if w.OnWritten != nil {
		w.OnWritten(snap.Header, path)
	}
}
