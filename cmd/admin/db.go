package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"broadside.gg/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/matches.sqlite)")
	matchID := fs.String("match", "", "match id (players, rounds, snapshots; optional for dqs)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "matches"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "matches.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	if err := query(context.Background(), idx, q, *matchID, *limit, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// query prints one JSON object per row.
func query(ctx context.Context, idx *indexdb.SQLiteIndex, q, matchID string, limit int, out io.Writer) error {
	if limit <= 0 {
		limit = 20
	}
	needMatch := func() error {
		if matchID == "" {
			return fmt.Errorf("%s: missing -match", q)
		}
		return nil
	}

	var (
		rows any
		err  error
	)
	switch q {
	case "matches":
		rows, err = idx.Matches(ctx, limit)
	case "players":
		if err = needMatch(); err == nil {
			rows, err = idx.Players(ctx, matchID)
		}
	case "rounds":
		if err = needMatch(); err == nil {
			rows, err = idx.Rounds(ctx, matchID)
		}
	case "dqs":
		rows, err = idx.Disqualifications(ctx, matchID, limit)
	case "snapshots":
		if err = needMatch(); err == nil {
			rows, err = idx.Snapshots(ctx, matchID)
		}
	case "standings":
		rows, err = idx.Standings(ctx)
	default:
		return fmt.Errorf("unknown query %q (matches, players, rounds, dqs, snapshots, standings)", q)
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", q, err)
	}
	return printRows(out, rows)
}

func printRows(out io.Writer, rows any) error {
	enc := json.NewEncoder(out)
	switch rs := rows.(type) {
	case []indexdb.MatchRow:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case []indexdb.PlayerRow:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case []indexdb.RoundRow:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case []indexdb.DQRow:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case []indexdb.SnapshotRow:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	case []indexdb.Standing:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	return nil
}
