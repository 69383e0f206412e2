// Command poolgend is the generator daemon: it reads a JSON config file,
// brings up either proxy mode or server mode, and serves the stratifier
// over a Unix domain socket until shutdown (spec.md §1/§2).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/embercore/poolgen/audit"
	"github.com/embercore/poolgen/config"
	"github.com/embercore/poolgen/ipc"
	"github.com/embercore/poolgen/logging"
	"github.com/embercore/poolgen/metrics"
	"github.com/embercore/poolgen/proxy"
	"github.com/embercore/poolgen/server"
)

// stratifierNotifier is the concrete Notifier used at process scope: it
// writes each outbound signal to the generator's own log, standing in for
// the actual stratifier IPC channel that proxy.Notifier/server.Notifier
// leave as an external collaborator (spec.md §1).
type stratifierNotifier struct{}

func (stratifierNotifier) Notify(signal string) {
	logging.Logger().WithField("signal", signal).Info("signal to stratifier")
}

func main() {
	opts, err := config.ParseArgs(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		logging.Logger().WithError(err).Fatal("loading config")
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := logging.Configure(cfg.LogLevel, nil); err != nil {
		logging.Logger().WithError(err).Warn("invalid log level, keeping default")
	}
	if cfg.LogFile != "" {
		if err := logging.NewFileLogger(cfg.LogFile); err != nil {
			logging.Logger().WithError(err).Warn("opening log file")
		}
	}

	if err := cfg.Validate(); err != nil {
		logging.Logger().WithError(err).Fatal("invalid configuration")
	}

	counters := &metrics.Counters{}
	var statusServer *metrics.Server
	if cfg.Api.Enabled {
		statusServer = metrics.NewServer(cfg.Api.Listen, counters)
		if cfg.NewRelic.Enabled {
			if err := statusServer.EnableNewRelic(cfg.NewRelic.Name, cfg.NewRelic.Key, cfg.NewRelic.Verbose); err != nil {
				logging.Logger().WithError(err).Warn("enabling New Relic forwarding")
			}
		}
		go func() {
			if err := statusServer.Serve(); err != nil {
				logging.Logger().WithError(err).Warn("status server exited")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	notifier := stratifierNotifier{}

	switch cfg.Mode {
	case "proxy":
		runProxy(ctx, cfg, notifier, counters)
	case "server":
		runServer(cfg, notifier)
	default:
		logging.Logger().WithField("mode", cfg.Mode).Fatal("unknown mode")
	}
}

func runProxy(ctx context.Context, cfg *config.Config, notifier stratifierNotifier, counters *metrics.Counters) {
	sink := audit.NewSink(cfg.Redis)
	defer sink.Close()

	if err := proxy.Run(ctx, cfg, notifier, sink, counters); err != nil {
		logging.Logger().WithError(err).Error("proxy mode exited with error")
		os.Exit(1)
	}
}

func runServer(cfg *config.Config, notifier stratifierNotifier) {
	srv, err := server.Start(&cfg.Server, notifier)
	if err != nil {
		logging.Logger().WithError(err).Error("server mode startup failed")
		os.Exit(1)
	}

	cronJob, err := srv.StartHealthCheck(cfg.Server.CheckInterval)
	if err != nil {
		logging.Logger().WithError(err).Warn("starting health check schedule")
	}
	if cronJob != nil {
		defer cronJob.Stop()
	}

	ln, err := ipc.Listen(cfg.Socket)
	if err != nil {
		logging.Logger().WithError(err).Error("listening on socket")
		os.Exit(1)
	}
	defer ln.Close()

	if err := srv.RunEndpoint(ln); err != nil {
		logging.Logger().WithError(err).Error("server mode exited with error")
		os.Exit(1)
	}
}
