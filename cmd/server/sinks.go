package main

import (
	"go.uber.org/zap"

	"broadside.gg/internal/config"
	"broadside.gg/internal/persistence/indexdb"
	persistlog "broadside.gg/internal/persistence/log"
	"broadside.gg/internal/persistence/snapshot"
	"broadside.gg/internal/sim/arena"
	"broadside.gg/internal/sim/eventlog"
)

// matchSinks wires every match to its journal, its snapshots and, if open, the index.
func matchSinks(dataDir string, idx *indexdb.SQLiteIndex, logger *zap.Logger) arena.SinkFactory {
	return func(matchID string, _ config.Match) ([]eventlog.Sink, func() error, error) {
		journal := persistlog.NewJournal(dataDir, matchID, logger)
		snaps := snapshot.NewWriter(dataDir, matchID, logger)
		sinks := []eventlog.Sink{journal, snaps}
		if idx != nil {
			rec := idx.Recorder(matchID)
			snaps.OnWritten = rec.RecordSnapshot
			sinks = append(sinks, rec)
		}
		return sinks, journal.Close, nil
	}
}
