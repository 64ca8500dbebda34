// Package serve runs the ingestion API server and notification workers.
package serve

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	api "github.com/carsense/carsense-go/internal/api/v2"
	"github.com/carsense/carsense-go/internal/audiostore"
	"github.com/carsense/carsense-go/internal/classifier"
	"github.com/carsense/carsense-go/internal/conf"
	"github.com/carsense/carsense-go/internal/datastore"
	"github.com/carsense/carsense-go/internal/ingest"
	"github.com/carsense/carsense-go/internal/livefanout"
	"github.com/carsense/carsense-go/internal/logging"
	"github.com/carsense/carsense-go/internal/notification"
	"github.com/carsense/carsense-go/internal/observability"
	"github.com/carsense/carsense-go/internal/threshold"
)

const (
	defaultPort     = "8080"
	shutdownTimeout = 10 * time.Second
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audio ingestion API and notification workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(settings)
		},
	}
}

// RunServer wires the service together and blocks until shutdown.
func RunServer(settings *conf.Settings) error {
	logger := logging.ForService("serve")

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logger.Error("failed to close datastore", "error", err)
		}
	}()

	store, err := audiostore.New(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize audio store: %w", err)
	}
	logger.Info("audio store ready", "backend", store.Backend())

	gate := threshold.New(ds, settings)
	if err := seedDefaultThresholds(gate, settings); err != nil {
		return err
	}

	obs, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	registry := livefanout.NewRegistry()

	senders := []notification.ChannelSender{notification.NewInAppSender(registry, obs.Delivery)}
	if settings.Notification.Push.Enabled {
		push, err := notification.NewPushSender(settings)
		if err != nil {
			return fmt.Errorf("failed to initialize push channel: %w", err)
		}
		senders = append(senders, push)
	}
	if settings.Notification.MQTT.Enabled {
		mqttSender, err := notification.NewMQTTSender(settings)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt channel: %w", err)
		}
		defer mqttSender.Close()
		senders = append(senders, mqttSender)
	}

	dispatcher := notification.NewDispatcher(ds, settings, obs.Delivery, senders...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("failed to close dispatcher", "error", err)
		}
	}()

	pipeline := ingest.New(store, classifier.New(settings), gate, ds, dispatcher, obs.Pipeline)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	controller := api.New(e, ds, settings, pipeline, gate, dispatcher, registry, obs)
	defer controller.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := notification.NewWorker(dispatcher, ds, settings)
	worker.Start(ctx)
	defer worker.Stop()

	port := settings.WebServer.Port
	if port == "" {
		port = defaultPort
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "port", port)
		if err := e.Start(":" + port); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down HTTP server")
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// seedDefaultThresholds applies the configured default minimum confidence to
// every registered alert type that has no stored threshold yet. Types left
// unconfigured stay denied.
func seedDefaultThresholds(gate *threshold.Gate, settings *conf.Settings) error {
	defaultMin := settings.Alerts.DefaultMinConfidence
	if defaultMin <= 0 {
		return nil
	}
	for _, alertType := range gate.KnownTypes() {
		_, configured, err := gate.GetThreshold(alertType)
		if err != nil {
			return fmt.Errorf("failed to read threshold for %s: %w", alertType, err)
		}
		if configured {
			continue
		}
		if err := gate.SetThreshold(alertType, defaultMin); err != nil {
			return fmt.Errorf("failed to seed threshold for %s: %w", alertType, err)
		}
	}
	return nil
}
