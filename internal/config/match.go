package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"broadside.gg/internal/protocol"
)

type RoundMode string

const (
	RoundsAll     RoundMode = "all"
	RoundsFirstTo RoundMode = "first_to"
	RoundsBestOf  RoundMode = "best_of"
)

// Match is the immutable per-match configuration. Controllers only ever see copies.
type Match struct {
	FieldWidth  int       `yaml:"field_width" json:"field_width"`
	FieldHeight int       `yaml:"field_height" json:"field_height"`
	Ships       []int     `yaml:"ships" json:"ships"`
	TimeLimitMs int       `yaml:"time_limit_ms" json:"time_limit_ms"`
	Rounds      int       `yaml:"rounds" json:"rounds"`
	RoundMode   RoundMode `yaml:"round_mode" json:"round_mode"`
	Seed        int64     `yaml:"seed" json:"seed"`

	// Invalid layouts tolerated before a participant is disqualified for the round.
	PlacementAttempts int `yaml:"placement_attempts" json:"placement_attempts"`

	// Violations that expel a participant from the rest of the match instead of the round.
	TimeoutFatal   bool `yaml:"timeout_fatal" json:"timeout_fatal,omitempty"`
	FaultFatal     bool `yaml:"fault_fatal" json:"fault_fatal,omitempty"`
	ViolationFatal bool `yaml:"violation_fatal" json:"violation_fatal,omitempty"`

	FriendlyFire bool `yaml:"friendly_fire" json:"friendly_fire,omitempty"`

	// Optional user-defined teams, by controller name. Unlisted controllers get their own team.
	Teams []TeamSpec `yaml:"teams,omitempty" json:"teams,omitempty"`
}

type TeamSpec struct {
	Name    string   `yaml:"name" json:"name"`
	Members []string `yaml:"members" json:"members"`
}

func Defaults() Match {
	return Match{
		FieldWidth:        10,
		FieldHeight:       10,
		Ships:             []int{2, 3, 3, 4, 5},
		TimeLimitMs:       1000,
		Rounds:            3,
		RoundMode:         RoundsBestOf,
		Seed:              1,
		PlacementAttempts: 1,
	}
}

// Game modes a controller can declare support for.
const (
	ModeClassic = "classic"
	ModeFFA     = "ffa"
	ModeTeams   = "teams"
)

// GameMode classifies a match of the given size under this config.
func (m Match) GameMode(players int) string {
	switch {
	case len(m.Teams) > 0:
		return ModeTeams
	case players > 2:
		return ModeFFA
	default:
		return ModeClassic
	}
}

func (m Match) TimeLimit() time.Duration { return time.Duration(m.TimeLimitMs) * time.Millisecond }

// Clone returns a deep copy so callers cannot share slices with the engine.
func (m Match) Clone() Match {
	out := m
	out.Ships = append([]int(nil), m.Ships...)
	if m.Teams != nil {
		out.Teams = make([]TeamSpec, len(m.Teams))
		for i, t := range m.Teams {
			out.Teams[i] = TeamSpec{Name: t.Name, Members: append([]string(nil), t.Members...)}
		}
	}
	return out
}

func (m Match) Validate() error {
	var errs []error
	if m.FieldWidth < 1 || m.FieldHeight < 1 {
		errs = append(errs, fmt.Errorf("field must be at least 1x1, got %dx%d", m.FieldWidth, m.FieldHeight))
	}
	if len(m.Ships) == 0 {
		errs = append(errs, errors.New("ships: at least one ship length required"))
	}
	cells := 0
	for _, l := range m.Ships {
		if l < 1 {
			errs = append(errs, fmt.Errorf("ships: invalid length %d", l))
		}
		if l > m.FieldWidth && l > m.FieldHeight {
			errs = append(errs, fmt.Errorf("ships: length %d does not fit a %dx%d field", l, m.FieldWidth, m.FieldHeight))
		}
		cells += l
	}
	if cells > m.FieldWidth*m.FieldHeight {
		errs = append(errs, fmt.Errorf("ships: %d cells do not fit a %dx%d field", cells, m.FieldWidth, m.FieldHeight))
	}
	if m.TimeLimitMs < 1 {
		errs = append(errs, fmt.Errorf("time_limit_ms must be positive, got %d", m.TimeLimitMs))
	}
	if m.Rounds < 1 {
		errs = append(errs, fmt.Errorf("rounds must be positive, got %d", m.Rounds))
	}
	switch m.RoundMode {
	case RoundsAll, RoundsFirstTo, RoundsBestOf:
	default:
		errs = append(errs, fmt.Errorf("round_mode: unknown mode %q", m.RoundMode))
	}
	if m.PlacementAttempts < 1 {
		errs = append(errs, fmt.Errorf("placement_attempts must be positive, got %d", m.PlacementAttempts))
	}
	seen := map[string]string{}
	for _, t := range m.Teams {
		for _, member := range t.Members {
			if prev, ok := seen[member]; ok {
				errs = append(errs, fmt.Errorf("teams: %q is in both %q and %q", member, prev, t.Name))
			}
			seen[member] = t.Name
		}
	}
	return errors.Join(errs...)
}

// firstToRoundCap bounds first_to matches whose rounds keep ending without a winner.
const firstToRoundCap = 4

// Done reports whether the match-level termination condition holds after `played`
// rounds, given the best score any participant holds.
func (m Match) Done(played, best int) bool {
	switch m.RoundMode {
	case RoundsFirstTo:
		return best >= m.Rounds || played >= m.Rounds*firstToRoundCap
	case RoundsBestOf:
		return best > m.Rounds/2 || played >= m.Rounds
	default:
		return played >= m.Rounds
	}
}

// Parse decodes a YAML match config on top of Defaults.
func Parse(raw []byte) (Match, error) {
	m := Defaults()
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return m, fmt.Errorf("match.yaml: %w", err)
	}
	if doc != nil {
		if err := protocol.ValidateValue(protocol.SchemaMatch, doc); err != nil {
			return m, fmt.Errorf("match.yaml: %w", err)
		}
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("match.yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, fmt.Errorf("match.yaml: %w", err)
	}
	return m, nil
}

func Load(path string) (Match, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(raw)
}
