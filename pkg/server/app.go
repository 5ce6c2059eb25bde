package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DigitPilot/internal/domain/repository"
	mid "DigitPilot/internal/middleware"
	"DigitPilot/internal/service/deriv"
	"DigitPilot/internal/usecase"
	pkgch "DigitPilot/pkg/clickhouse"
	"DigitPilot/pkg/config"
	xhttp "DigitPilot/pkg/http"
	pkgkafka "DigitPilot/pkg/kafka"
	applogger "DigitPilot/pkg/logger"
	pkgpg "DigitPilot/pkg/postgres"
	pkgqueue "DigitPilot/pkg/queue"
)

// Components holds everything DI assembles for the engine. Archive-path
// members (Pipeline, Consumer, Archiver, ClickHouse) are nil when
// archiving is disabled; the app skips them.
type Components struct {
	Config     *config.Config
	Log        *applogger.Logger
	Stream     *deriv.Stream
	Pool       *deriv.Pool
	Pipeline   *mid.TickPipeline
	Consumer   *pkgkafka.Consumer
	Archiver   *usecase.TickArchiveHandler
	Queue      *pkgqueue.RedisQueue
	Scheduler  *usecase.Scheduler
	Monitor    *usecase.Monitor
	Sessions   *usecase.SessionManager
	Publisher  repository.EventPublisher
	ClickHouse *pkgch.Client
	Postgres   *pkgpg.Client
	Handler    xhttp.Handler
}

// App owns the engine lifecycle: it starts the venue connections, the
// archive path, the queue and the scheduler, then blocks until a signal
// and tears everything down in reverse.
type App struct {
	c          Components
	httpServer *xhttp.Server
}

func New(c Components) *App {
	return &App{c: c}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := a.c.Log

	a.httpServer = xhttp.NewServer(a.c.Handler,
		xhttp.WithPort(a.c.Config.Server.Port),
		xhttp.WithTimeouts(
			a.c.Config.Server.ReadTimeout,
			a.c.Config.Server.WriteTimeout,
			a.c.Config.Server.ShutdownTimeout,
		),
		xhttp.WithRequestMetrics(l, time.Second),
	)

	// Archive path: the pipeline fans live ticks onto Kafka and the
	// consumer writes them to ClickHouse. Hooks must be registered
	// before the stream starts.
	if a.c.Pipeline != nil {
		a.c.Stream.OnTick(a.c.Pipeline.Offer)
		a.c.Pipeline.Start(ctx)
	}
	if a.c.Consumer != nil && a.c.Archiver != nil {
		a.c.Consumer.RegisterHandler(a.c.Archiver)
		a.c.Archiver.Start()
		go func() {
			if err := a.c.Consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("tick archiver started", applogger.String("topic", a.c.Archiver.Topic()))
	}

	if err := a.c.Queue.Start(); err != nil {
		return fmt.Errorf("queue start: %w", err)
	}

	if err := a.c.Stream.Start(ctx); err != nil {
		return fmt.Errorf("tick stream: %w", err)
	}
	l.Info("tick stream started", applogger.Strings("markets", a.c.Config.Deriv.Markets))

	go a.c.Pool.Run(ctx)

	// Re-adopt sessions that were live before the restart, then let the
	// scheduler pick them up.
	if restored := a.c.Sessions.Restore(ctx); restored > 0 {
		l.Info("sessions restored", applogger.Int("count", restored))
	}

	go a.c.Scheduler.Run(ctx)
	l.Info("scheduler started", applogger.Duration("interval", a.c.Config.Scheduler.Interval))

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in reverse dependency order: operator API
// first so no new work arrives, then the signal and contract paths, then
// the archive path, then the venue connections and stores.
func (a *App) shutdown(ctx context.Context) error {
	l := a.c.Log

	shutdownCtx, cancel := context.WithTimeout(ctx, a.c.Config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Warn("http shutdown error", applogger.Error(err))
	}

	a.c.Scheduler.Close()

	// Open contracts stay open at the venue; the next boot reattaches.
	a.c.Monitor.Close()

	if a.c.Pipeline != nil {
		a.c.Pipeline.Stop()
	}
	if a.c.Archiver != nil {
		a.c.Archiver.Close()
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := a.c.Queue.Stop(ctx); err != nil {
		l.Warn("queue stop error", applogger.Error(err))
	}

	a.c.Pool.CloseAll()
	if err := a.c.Stream.Close(); err != nil {
		l.Warn("tick stream close error", applogger.Error(err))
	}

	// The log collector flushes through the producer, so it has to stop
	// first.
	l.RemoveCollector()
	if err := a.c.Publisher.Close(); err != nil {
		l.Warn("kafka producer close error", applogger.Error(err))
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if err := a.c.Postgres.Close(); err != nil {
		l.Warn("postgres close error", applogger.Error(err))
	}

	l.Info("shutdown complete")
	return nil
}
