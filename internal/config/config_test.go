package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	m, err := Parse([]byte(`
field_width: 8
time_limit_ms: 250
round_mode: first_to
rounds: 2
seed: 99
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.FieldWidth != 8 || m.FieldHeight != 10 {
		t.Fatalf("field=%dx%d", m.FieldWidth, m.FieldHeight)
	}
	if m.TimeLimit().Milliseconds() != 250 {
		t.Fatalf("time limit=%v", m.TimeLimit())
	}
	if m.RoundMode != RoundsFirstTo || m.Rounds != 2 || m.Seed != 99 {
		t.Fatalf("unexpected config: %+v", m)
	}
	if len(m.Ships) != 5 {
		t.Fatalf("ships=%v", m.Ships)
	}
}

func TestParse_Empty(t *testing.T) {
	m, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	if m.FieldWidth != 10 || m.RoundMode != RoundsBestOf {
		t.Fatalf("expected defaults, got %+v", m)
	}
}

func TestParse_SchemaRejects(t *testing.T) {
	cases := []string{
		"round_mode: sudden_death\n",
		"ships: []\n",
		"bogus_key: 1\n",
		"field_width: -3\n",
		"- just\n- a list\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestValidate_SemanticErrors(t *testing.T) {
	m := Defaults()
	m.FieldWidth, m.FieldHeight = 3, 3
	m.Ships = []int{3, 3, 3, 3}
	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "do not fit") {
		t.Fatalf("expected fit error, got %v", err)
	}

	m = Defaults()
	m.Teams = []TeamSpec{{Name: "a", Members: []string{"x"}}, {Name: "b", Members: []string{"x"}}}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected duplicate team member error")
	}
}

func TestDone_Modes(t *testing.T) {
	cases := []struct {
		mode         RoundMode
		rounds       int
		played, best int
		want         bool
	}{
		{RoundsAll, 3, 2, 2, false},
		{RoundsAll, 3, 3, 1, true},
		{RoundsBestOf, 3, 2, 2, true},
		{RoundsBestOf, 3, 2, 1, false},
		{RoundsBestOf, 3, 3, 1, true},
		{RoundsFirstTo, 2, 5, 1, false},
		{RoundsFirstTo, 2, 3, 2, true},
		{RoundsFirstTo, 2, 8, 1, true},
	}
	for _, tc := range cases {
		m := Defaults()
		m.RoundMode = tc.mode
		m.Rounds = tc.rounds
		if got := m.Done(tc.played, tc.best); got != tc.want {
			t.Fatalf("%s/%d played=%d best=%d: got %v want %v", tc.mode, tc.rounds, tc.played, tc.best, got, tc.want)
		}
	}
}

func TestClone_DoesNotShare(t *testing.T) {
	m := Defaults()
	m.Teams = []TeamSpec{{Name: "red", Members: []string{"a"}}}
	c := m.Clone()
	c.Ships[0] = 99
	c.Teams[0].Members[0] = "z"
	if m.Ships[0] == 99 || m.Teams[0].Members[0] == "z" {
		t.Fatalf("clone shares memory with original")
	}
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "match.yaml")
	if err := os.WriteFile(p, []byte("rounds: 5\nround_mode: all\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Rounds != 5 || m.RoundMode != RoundsAll {
		t.Fatalf("unexpected: %+v", m)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

type envTestConfig struct {
	Addr string `env:"BROADSIDE_TEST_ADDR" envDefault:":8080"`
	Port int    `env:"BROADSIDE_TEST_PORT" envDefault:"123"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 || cfg.Addr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("BROADSIDE_TEST_PORT", "not-an-int")
	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestGameMode(t *testing.T) {
	m := Defaults()
	if got := m.GameMode(2); got != ModeClassic {
		t.Fatalf("2 players: %s", got)
	}
	if got := m.GameMode(4); got != ModeFFA {
		t.Fatalf("4 players: %s", got)
	}
	m.Teams = []TeamSpec{{Name: "red", Members: []string{"a", "b"}}}
	if got := m.GameMode(3); got != ModeTeams {
		t.Fatalf("teams: %s", got)
	}
}
