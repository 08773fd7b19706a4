package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"photopipe/internal/metrics"
	"photopipe/internal/models"
	"photopipe/internal/queue"
	"photopipe/internal/server"
	"photopipe/internal/tagging"
	"photopipe/internal/worker"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the upload/list HTTP API and the tagging worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		runAPI, err := cmd.Flags().GetBool("api")
		if err != nil {
			return err
		}
		runWorker, err := cmd.Flags().GetBool("worker")
		if err != nil {
			return err
		}
		if !runAPI && !runWorker {
			return errors.New("nothing to run: both --api and --worker are disabled")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, runAPI, runWorker)
	},
}

func serve(ctx context.Context, cfg *models.Config, runAPI, runWorker bool) error {
	var tagger *tagging.OllamaTagger
	if runWorker {
		var err error
		tagger, err = tagging.NewOllamaTagger(cfg.Tagging.Endpoint, cfg.Tagging.Model, cfg.Tagging.APIKey, cfg.Tagging.MaxDimension)
		if err != nil {
			return fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
		}
	}

	photos, closePhotos, err := openPhotoStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePhotos()

	blobs, closeBlobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	g, gctx := errgroup.WithContext(ctx)

	if runAPI {
		producer := queue.NewProducer(cfg.Queue.Brokers, cfg.Queue.Topic)
		defer producer.Close()

		srv := server.NewServer(cfg, server.Deps{
			Photos:   photos,
			Blobs:    blobs,
			Queue:    producer,
			Metrics:  m,
			Gatherer: reg,
			Log:      slog.Default(),
		})
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Stop(shutdownCtx)
		})
	}

	if runWorker {
		processor := worker.NewProcessor(photos, blobs, tagger, m, slog.Default())
		consumer := queue.NewConsumer(cfg.Queue.Brokers, cfg.Queue.Topic, cfg.Queue.GroupID, slog.Default())

		slog.Info("✓ worker consuming", "topic", cfg.Queue.Topic, "group", cfg.Queue.GroupID)
		g.Go(func() error {
			return consumer.Run(gctx, processor.HandleMessage)
		})
	}

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("api", true, "Serve the HTTP API")
	serveCmd.Flags().Bool("worker", true, "Consume the work queue")
}
