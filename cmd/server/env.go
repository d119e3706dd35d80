package main

import (
	"flag"

	"broadside.gg/internal/config"
)

// serverConfig is read from the environment first; flags override it.
type serverConfig struct {
	Addr        string  `env:"BROADSIDE_ADDR" envDefault:":8080"`
	DataDir     string  `env:"BROADSIDE_DATA" envDefault:"./data"`
	PluginsDir  string  `env:"BROADSIDE_PLUGINS" envDefault:"./plugins"`
	MatchConfig string  `env:"BROADSIDE_MATCH_CONFIG"`
	LogLevel    string  `env:"BROADSIDE_LOG_LEVEL" envDefault:"info"`
	LogDev      bool    `env:"BROADSIDE_LOG_DEV"`
	DisableDB   bool    `env:"BROADSIDE_DISABLE_DB"`
	Retain      int     `env:"BROADSIDE_RETAIN" envDefault:"256"`
	Parallel    int     `env:"BROADSIDE_PARALLEL" envDefault:"4"`
	AdminHTTP   bool    `env:"BROADSIDE_ENABLE_ADMIN_HTTP" envDefault:"true"`
	SpectRate   float64 `env:"BROADSIDE_SPECTATOR_RATE" envDefault:"5"`
	SpectBurst  int     `env:"BROADSIDE_SPECTATOR_BURST" envDefault:"10"`
	SpectLocal  bool    `env:"BROADSIDE_SPECTATOR_LOOPBACK_ONLY"`

	// Startup matches: comma separated entrant refs, played Matches times.
	Play    string `env:"BROADSIDE_PLAY"`
	Matches int    `env:"BROADSIDE_MATCHES" envDefault:"1"`
	// Exit after the startup matches instead of serving.
	Once bool `env:"BROADSIDE_ONCE"`
}

func loadServerConfig(args []string) (serverConfig, error) {
	var cfg serverConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http listen address")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "runtime data directory")
	fs.StringVar(&cfg.PluginsDir, "plugins", cfg.PluginsDir, "controller manifest directory (skipped if missing)")
	fs.StringVar(&cfg.MatchConfig, "match", cfg.MatchConfig, "match config yaml (default: built-in classic rules)")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&cfg.LogDev, "log_dev", cfg.LogDev, "human readable logs")
	fs.BoolVar(&cfg.DisableDB, "disable_db", cfg.DisableDB, "disable the sqlite match index")
	fs.IntVar(&cfg.Retain, "retain", cfg.Retain, "finished matches kept in memory for spectators")
	fs.IntVar(&cfg.Parallel, "parallel", cfg.Parallel, "startup matches run at once")
	fs.BoolVar(&cfg.AdminHTTP, "admin_http", cfg.AdminHTTP, "enable loopback-only admin endpoints")
	fs.Float64Var(&cfg.SpectRate, "spectator_rate", cfg.SpectRate, "spectator requests per second per client")
	fs.IntVar(&cfg.SpectBurst, "spectator_burst", cfg.SpectBurst, "spectator request burst per client")
	fs.BoolVar(&cfg.SpectLocal, "spectator_loopback_only", cfg.SpectLocal, "serve spectators on loopback only")
	fs.StringVar(&cfg.Play, "play", cfg.Play, "entrants for startup matches, e.g. randombot,randombot@v1.2.0")
	fs.IntVar(&cfg.Matches, "matches", cfg.Matches, "number of startup matches")
	fs.BoolVar(&cfg.Once, "once", cfg.Once, "exit after the startup matches")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}
