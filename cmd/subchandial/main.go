// Command subchandial dials a subchannel transport against a configured
// address list and drives it through TryConnect, GetStream, Disconnect and
// Dispose, logging every step with the styled logger. It stands in for the
// load balancer and upper HTTP/2 layer the real transport is built for.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaywire/subchannel/internal/adapter/transport"
	"github.com/relaywire/subchannel/internal/config"
	"github.com/relaywire/subchannel/internal/core/domain"
	"github.com/relaywire/subchannel/internal/demo"
	"github.com/relaywire/subchannel/internal/logger"
	"github.com/relaywire/subchannel/internal/util"
	"github.com/relaywire/subchannel/internal/version"
	"github.com/relaywire/subchannel/pkg/eventbus"
	"github.com/relaywire/subchannel/pkg/format"
	"github.com/relaywire/subchannel/pkg/nerdstats"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, styled, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		PrettyLogs: cfg.Logging.Format != "json",
		FileOutput: cfg.Logging.Output == "file",
		LogDir:     "./logs",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Theme:      "default",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styled.Info("subchandial starting", "version", version.Version, "pid", os.Getpid())

	if len(cfg.Subchannels) == 0 {
		logger.FatalWithLogger(logInstance, "no subchannels configured")
	}
	target := cfg.Subchannels[0]

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styled.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	sub := demo.NewSubchannel(target.ID, target.Addresses, styled)
	events := eventbus.New[domain.ConnectivityEvent]()
	defer events.Shutdown()

	unsubscribe := logTransitions(ctx, events, styled)
	defer unsubscribe()

	tcfg := transport.Config{
		ProbeInterval:    cfg.Transport.ProbeInterval,
		ConnectTimeout:   cfg.Transport.ConnectTimeout,
		ConnectRateLimit: rate.Limit(cfg.Transport.ConnectRatePerSec),
		ConnectRateBurst: cfg.Transport.ConnectRateBurst,
	}

	tr := transport.New(sub, transport.DefaultDialer, tcfg, logInstance, events)

	if err := runDemo(ctx, styled, tr); err != nil && !errors.Is(err, context.Canceled) {
		styled.Error("demo run failed", "error", err)
	}

	tr.Dispose()
	if cfg.Engineering.ShowNerdStats {
		reportProcessStats(styled, startTime)
	}
	styled.Info("subchandial has shut down")
}

// runDemo connects with a linearly growing backoff on failure, opens one stream,
// exchanges a line of data and tears everything back down, looping until
// the context is cancelled.
func runDemo(ctx context.Context, styled *logger.StyledLogger, tr *transport.Transport) error {
	attempt := 0
	for ctx.Err() == nil {
		attempt++
		result, err := tr.TryConnect(ctx)
		if err != nil {
			backoff := util.CalculateConnectionRetryBackoff(attempt)
			styled.Warn("connect attempt failed, backing off before retry", "attempt", attempt, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if result != transport.ConnectSuccess {
			continue
		}

		stats := tr.Stats()
		styled.InfoWithAddress("connected, opening stream against", stats.CurrentAddress)

		stream, err := tr.GetStream(ctx, domain.Address{Endpoint: stats.CurrentAddress})
		if err != nil {
			styled.Error("failed to open stream", "error", err)
			tr.Disconnect()
			continue
		}

		exchange(styled, stream)
		_ = stream.Close()

		attempt = 0
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(demoCycleInterval):
		}
	}
	return ctx.Err()
}

// demoCycleInterval paces the reconnect/exchange loop so the demo reads as
// periodic traffic instead of a hot loop.
const demoCycleInterval = 3 * time.Second

func exchange(styled *logger.StyledLogger, stream io.ReadWriteCloser) {
	if _, err := stream.Write([]byte("PING\n")); err != nil {
		styled.Error("stream write failed", "error", err)
		return
	}

	buf := make([]byte, 256)
	n, err := stream.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		styled.Error("stream read failed", "error", err)
		return
	}
	styled.InfoWithBufferedBytes("received reply of", n)
}

func logTransitions(ctx context.Context, events *eventbus.EventBus[domain.ConnectivityEvent], styled *logger.StyledLogger) func() {
	ch, cleanup := events.Subscribe(ctx)
	go func() {
		for evt := range ch {
			styled.Debug("connectivity event observed", "subchannel", evt.SubchannelID, "from", evt.From, "to", evt.To, "reason", evt.Reason)
		}
	}()
	return cleanup
}

func reportProcessStats(styled *logger.StyledLogger, startTime time.Time) {
	runtime.GC()
	stats := nerdstats.Snapshot(startTime)

	styled.Info("process stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"uptime", format.Duration(stats.Uptime),
		"num_goroutines", stats.NumGoroutines,
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}
