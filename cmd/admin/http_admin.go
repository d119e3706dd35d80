package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// startCmd asks a running server to start a match. Config is a yaml or json
// file overlaying the server's defaults.
func startCmd(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	entrants := fs.String("entrants", "randombot,randombot", "comma separated controller refs")
	cfgPath := fs.String("config", "", "match config file (optional)")
	_ = fs.Parse(args)

	body := map[string]any{"entrants": splitList(*entrants)}
	if *cfgPath != "" {
		raw, err := os.ReadFile(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read config:", err)
			os.Exit(1)
		}
		// The server accepts yaml inside the json string as well as a json object.
		var obj json.RawMessage
		if json.Valid(raw) {
			obj = raw
		} else {
			obj, _ = json.Marshal(string(raw))
		}
		body["config"] = obj
	}
	b, _ := json.Marshal(body)
	do(http.MethodPost, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/admin/v1/matches", b)
}

// liveCmd lists the matches a server holds in memory.
func liveCmd(args []string) {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	do(http.MethodGet, strings.TrimRight(strings.TrimSpace(*baseURL), "/")+"/v1/matches", nil)
}

func do(method, u string, body []byte) {
	req, _ := http.NewRequest(method, u, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
