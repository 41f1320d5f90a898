// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adiadia/session-recorder/internal/browser"
	"github.com/adiadia/session-recorder/internal/config"
	"github.com/adiadia/session-recorder/internal/eventlog"
	"github.com/adiadia/session-recorder/internal/export"
	"github.com/adiadia/session-recorder/internal/logging"
	"github.com/adiadia/session-recorder/internal/messaging"
	"github.com/adiadia/session-recorder/internal/metrics"
	"github.com/adiadia/session-recorder/internal/session"
	httptransport "github.com/adiadia/session-recorder/internal/transport/http"
	"github.com/adiadia/session-recorder/internal/transport/middleware"
	"github.com/adiadia/session-recorder/internal/transport/ws"
	"github.com/adiadia/session-recorder/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)
	metrics.Init()

	backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage setup failed", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer backend.close()

	tracker := browser.NewTracker()
	store := eventlog.NewStore()

	flusher := worker.New(worker.Deps{
		Source:   store,
		Storage:  backend.storage,
		Key:      cfg.StorageKey,
		Interval: cfg.FlushInterval,
		Logger:   logging.WithComponent(logger, "flusher"),
	})
	if n, err := flusher.Restore(ctx, store); err != nil {
		logger.Warn("restore persisted log failed", "error", err)
	} else if n > 0 {
		logger.Info("restored persisted log", "records", n)
	}
	store.OnChange(flusher.Trigger)

	// The mailbox, hub and authority refer to each other; the dispatcher is
	// bound once the authority exists.
	var dispatcher *messaging.Dispatcher
	mailbox := messaging.NewMailbox(
		messaging.HandlerFunc(func(ctx context.Context, msg messaging.Message) messaging.Response {
			return dispatcher.Handle(ctx, msg)
		}),
		messaging.DefaultMailboxSize,
		cfg.RequestTimeout,
		logging.WithComponent(logger, "mailbox"),
	)

	bus := messaging.NewLocalBus(cfg.RequestTimeout)
	hub := ws.NewHub(mailbox, ws.HubOptions{
		OriginPatterns: cfg.WSOriginPatterns,
		Logger:         logging.WithComponent(logger, "ws"),
	})

	authority := session.NewAuthority(store, tracker, messaging.Broadcasters{bus, hub}, session.Options{
		Logger: logging.WithComponent(logger, "session"),
	})
	dispatcher = messaging.NewDispatcher(authority, logging.WithComponent(logger, "dispatcher"))

	exporter, err := newExporter(ctx, cfg, logger)
	if err != nil {
		logger.Error("export sink setup failed", "error", err)
		os.Exit(1)
	}

	deps := httptransport.Deps{
		Session:      authority,
		Events:       store,
		Browser:      tracker,
		Chrome:       authority,
		Messenger:    mailbox,
		Readiness:    backend.readiness,
		WebSocket:    hub,
		Limiter:      middleware.NewRateLimiter(cfg.IngestRatePerSec, cfg.IngestBurst),
		ControlToken: cfg.ControlToken,
		Product:      cfg.ProductName,
		Logger:       logger,
		Version:      Version,
		Commit:       Commit,
		BuildDate:    BuildDate,
	}
	if exporter != nil {
		deps.Exporter = exporter
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var background sync.WaitGroup
	runCtx, cancelRun := context.WithCancel(context.Background())

	background.Add(2)
	go func() {
		defer background.Done()
		mailbox.Run(runCtx)
	}()
	go func() {
		defer background.Done()
		flusher.Run(runCtx)
	}()

	go func() {
		logger.Info("recorder listening",
			"addr", cfg.HTTPAddr,
			"storage_driver", cfg.StorageDriver,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// The flusher writes its last snapshot on cancel.
	cancelRun()
	mailbox.Close()
	background.Wait()
}

func newExporter(ctx context.Context, cfg config.Config, logger *slog.Logger) (*export.Exporter, error) {
	var sink export.Sink
	switch {
	case cfg.ExportDir != "":
		fs, err := export.NewFileSink(cfg.ExportDir)
		if err != nil {
			return nil, err
		}
		sink = fs
	case cfg.ExportS3Bucket != "":
		s3, err := export.NewS3Sink(ctx, export.S3Config{
			Bucket:   cfg.ExportS3Bucket,
			Region:   cfg.ExportS3Region,
			Endpoint: cfg.ExportS3Endpoint,
			Prefix:   cfg.ExportS3Prefix,
		})
		if err != nil {
			return nil, err
		}
		sink = s3
	default:
		logger.Info("export sink disabled", "reason", "neither EXPORT_DIR nor EXPORT_S3_BUCKET is set")
		return nil, nil
	}
	return export.NewExporter(sink, cfg.ProductName, logging.WithComponent(logger, "export")), nil
}
