package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"broadside.gg/internal/persistence/log"
	"broadside.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshots":
			snapshotsCmd(os.Args[2:])
			return
		case "start":
			startCmd(os.Args[2:])
			return
		case "live":
			liveCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the match directories under the data dir and whether each has
// a journal.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "matches"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		journal := "no journal"
		if st, err := os.Stat(log.JournalPath(*dataDir, e.Name())); err == nil {
			journal = fmt.Sprintf("journal %d bytes", st.Size())
		}
		fmt.Printf("%s\t%s\n", e.Name(), journal)
	}
}

// snapshotsCmd prints the headers of a match's snapshots without decoding the
// state.
func snapshotsCmd(args []string) {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	matchID := fs.String("match", "", "match id")
	_ = fs.Parse(args)

	if *matchID == "" {
		fmt.Fprintln(os.Stderr, "missing -match")
		os.Exit(2)
	}
	idxs, err := snapshot.Indexes(*dataDir, *matchID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	for _, i := range idxs {
		h, err := snapshot.ReadHeader(snapshot.Path(*dataDir, *matchID, i))
		if err != nil {
			fmt.Fprintln(os.Stderr, "header:", err)
			os.Exit(1)
		}
		_ = enc.Encode(h)
	}
}
