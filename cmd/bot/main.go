// Command bot runs the reference random controller over stdin/stdout, the way
// the engine launches out-of-process controllers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"broadside.gg/internal/bots/randombot"
	"broadside.gg/internal/logging"
	"broadside.gg/internal/transport/stdio"
)

func main() {
	var (
		name     = flag.String("name", randombot.Name, "controller name sent in HELLO")
		version  = flag.String("version", randombot.Version, "controller version sent in HELLO")
		seed     = flag.Int64("seed", 0, "rng seed (0: from the clock)")
		logLevel = flag.String("log_level", "warn", "log level; logs go to stderr")
	)
	flag.Parse()

	// stdout carries the protocol, so logs must not.
	logger, err := logging.New(*logLevel, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serving", zap.String("name", *name), zap.Int64("seed", *seed))
	err = stdio.Serve(ctx, os.Stdin, os.Stdout, randombot.New(*seed), *name, *version)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("serve", zap.Error(err))
		os.Exit(1)
	}
}
