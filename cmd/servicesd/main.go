// Command servicesd runs the connection layer of an IRC services daemon: it
// listens for local clients, maintains the uplink to the IRC network, and
// serves a minimal line protocol on both.
//
// Usage:
//
//	servicesd -config servicesd.yaml [-log-level debug]
//
// SIGINT or SIGTERM shuts down, SIGUSR1 logs one stats line per connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/go-servicesd/config"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

func main() {
	var (
		configPath = flag.String("config", "servicesd.yaml", "path to the YAML configuration file")
		logLevel   = flag.String("log-level", "", "overrides log_level, from the configuration file")
	)
	flag.Parse()

	if err := run(*configPath, *logLevel); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "servicesd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger := newLogger(level)

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.start(ctx); err != nil {
		return err
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	// runs before d.close
	defer d.handleStatsSignals(usr1)()

	logger.Notice().Log("servicesd: started")
	err = d.run(ctx)
	logger.Notice().Log("servicesd: stopped")
	return err
}

func newLogger(level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(os.Stderr),
			stumpy.WithTimeField(`time`),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}
