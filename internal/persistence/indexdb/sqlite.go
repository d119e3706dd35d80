// Package indexdb keeps a queryable SQLite read model of finished and running
// matches. The journals stay the source of truth; the index may lag or drop rows.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropMatch    atomic.Uint64
	dropPlayer   atomic.Uint64
	dropRound    atomic.Uint64
	dropDQ       atomic.Uint64
	dropSnapshot atomic.Uint64
	writeFail    atomic.Uint64
}

type reqKind int

const (
	reqMatch reqKind = iota + 1
	reqPlayer
	reqRound
	reqDQ
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	match    MatchRow
	player   PlayerRow
	round    RoundRow
	dq       DQRow
	snapshot SnapshotRow
	flushed  chan struct{}
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropMatchTotal    uint64
	DropPlayerTotal   uint64
	DropRoundTotal    uint64
	DropDQTotal       uint64
	DropSnapshotTotal uint64
	WriteFailTotal    uint64
}

const queueSize = 16384

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			round_mode TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			config_json TEXT NOT NULL,
			rounds_played INTEGER NOT NULL DEFAULT 0,
			events INTEGER NOT NULL DEFAULT 0,
			digest TEXT NOT NULL DEFAULT '',
			ended_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			match_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			team TEXT NOT NULL,
			score INTEGER NOT NULL,
			expelled INTEGER NOT NULL,
			PRIMARY KEY (match_id, player_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_players_name ON players(name, version);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			match_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			turn_order TEXT NOT NULL,
			winners TEXT NOT NULL,
			shots INTEGER NOT NULL,
			end_index INTEGER NOT NULL,
			PRIMARY KEY (match_id, round)
		);`,
		`CREATE TABLE IF NOT EXISTS disqualifications (
			match_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			round INTEGER NOT NULL,
			player_id INTEGER NOT NULL,
			code TEXT NOT NULL,
			detail TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			fatal INTEGER NOT NULL,
			PRIMARY KEY (match_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dq_code ON disqualifications(code);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			match_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			round INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (match_id, idx)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropMatchTotal:    s.dropMatch.Load(),
		DropPlayerTotal:   s.dropPlayer.Load(),
		DropRoundTotal:    s.dropRound.Load(),
		DropDQTotal:       s.dropDQ.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteFailTotal:    s.writeFail.Load(),
	}
}

// enqueue never blocks the match; a full queue drops the row.
func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordMatch(m MatchRow) { s.enqueue(req{kind: reqMatch, match: m}, &s.dropMatch) }

func (s *SQLiteIndex) RecordPlayer(p PlayerRow) {
	s.enqueue(req{kind: reqPlayer, player: p}, &s.dropPlayer)
}

func (s *SQLiteIndex) RecordRound(r RoundRow) { s.enqueue(req{kind: reqRound, round: r}, &s.dropRound) }

func (s *SQLiteIndex) RecordDisqualification(d DQRow) {
	s.enqueue(req{kind: reqDQ, dq: d}, &s.dropDQ)
}

func (s *SQLiteIndex) RecordSnapshot(sn SnapshotRow) {
	s.enqueue(req{kind: reqSnapshot, snapshot: sn}, &s.dropSnapshot)
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	stmts := map[reqKind]string{
		reqMatch: `INSERT INTO matches(match_id,created_at,seed,round_mode,rounds,config_json,rounds_played,events,digest,ended_at)
			VALUES(?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(match_id) DO UPDATE SET
				rounds_played=excluded.rounds_played,
				events=excluded.events,
				digest=excluded.digest,
				ended_at=COALESCE(excluded.ended_at, matches.ended_at)`,
		reqPlayer:   `INSERT OR REPLACE INTO players(match_id,player_id,name,version,team,score,expelled) VALUES(?,?,?,?,?,?,?)`,
		reqRound:    `INSERT OR REPLACE INTO rounds(match_id,round,turn_order,winners,shots,end_index) VALUES(?,?,?,?,?,?)`,
		reqDQ:       `INSERT OR REPLACE INTO disqualifications(match_id,idx,round,player_id,code,detail,elapsed_ms,fatal) VALUES(?,?,?,?,?,?,?,?)`,
		reqSnapshot: `INSERT OR REPLACE INTO snapshots(match_id,idx,round,path,digest) VALUES(?,?,?,?,?)`,
	}
	prepared := map[reqKind]*sql.Stmt{}
	for k, q := range stmts {
		if st, err := s.db.Prepare(q); err == nil {
			prepared[k] = st
		}
	}
	defer func() {
		for _, st := range prepared {
			_ = st.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flushed)
			continue
		}
		begin()
		if tx == nil {
			s.writeFail.Add(1)
			continue
		}
		st := prepared[r.kind]
		if st == nil {
			s.writeFail.Add(1)
			continue
		}
		if _, err := tx.Stmt(st).Exec(r.args()...); err != nil {
			// One bad row must not undo the rest of the batch.
			s.writeFail.Add(1)
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

func (r req) args() []any {
	switch r.kind {
	case reqMatch:
		m := r.match
		var ended any
		if !m.EndedAt.IsZero() {
			ended = m.EndedAt.UTC().Format(time.RFC3339Nano)
		}
		return []any{m.MatchID, m.CreatedAt.UTC().Format(time.RFC3339Nano), m.Seed, m.RoundMode, m.Rounds, m.ConfigJSON, m.RoundsPlayed, m.Events, m.Digest, ended}
	case reqPlayer:
		p := r.player
		return []any{p.MatchID, p.PlayerID, p.Name, p.Version, p.Team, p.Score, boolInt(p.Expelled)}
	case reqRound:
		rd := r.round
		return []any{rd.MatchID, rd.Round, rd.Order, rd.Winners, rd.Shots, rd.EndIndex}
	case reqDQ:
		d := r.dq
		return []any{d.MatchID, d.Index, d.Round, d.PlayerID, d.Code, d.Detail, d.ElapsedMs, boolInt(d.Fatal)}
	case reqSnapshot:
		sn := r.snapshot
		return []any{sn.MatchID, sn.Index, sn.Round, sn.Path, sn.Digest}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
