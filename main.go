package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/waste-sort/internal/classifier"
	"github.com/example/waste-sort/internal/classifier/tflite"
	"github.com/example/waste-sort/internal/config"
	"github.com/example/waste-sort/internal/grpcclient"
	"github.com/example/waste-sort/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "wastesort",
		Short:        "Waste image classification API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	return root
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	model, closeModel := initClassifier(cfg.Classifier, logger)
	defer closeModel()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a, err := newApp(startCtx, cfg, model, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("waste classification API listening", zap.String("addr", cfg.Server.Addr))
	if err := serve(server, nil, nil, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

// initClassifier never fails: a backend that cannot start is replaced by
// classifier.Unavailable so the rest of the API keeps serving.
func initClassifier(cfg config.ClassifierConfig, logger *zap.Logger) (classifier.Classifier, func()) {
	switch cfg.Backend {
	case config.BackendGRPC:
		client, conn, err := grpcclient.DialClassifier(cfg.GRPCAddr, logger)
		if err != nil {
			logger.Error("failed to connect to classifier", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
			return classifier.Unavailable{Cause: err}, func() {}
		}
		logger.Info("using remote classifier", zap.String("addr", cfg.GRPCAddr))
		return classifier.WithTimeout(client, cfg.Timeout), func() { _ = conn.Close() }
	default:
		model, err := tflite.Load(tflite.Options{
			ModelPath: cfg.ModelPath,
			InputSize: cfg.InputSize,
			Threads:   cfg.Threads,
		}, logger)
		if err != nil {
			logger.Error("failed to load model", zap.String("path", cfg.ModelPath), zap.Error(err))
			return classifier.Unavailable{Cause: err}, func() {}
		}
		logger.Info("model loaded", zap.String("path", cfg.ModelPath))
		return classifier.WithTimeout(model, cfg.Timeout), model.Close
	}
}

// serve runs server on listener (or server.Addr when nil) until it fails or a
// signal arrives on stop, then drains in-flight requests for at most
// shutdownTimeout. A nil stop listens for SIGINT and SIGTERM.
func serve(server *http.Server, listener net.Listener, stop <-chan os.Signal, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if listener == nil {
		var err error
		if listener, err = net.Listen("tcp", server.Addr); err != nil {
			return fmt.Errorf("listen on %s: %w", server.Addr, err)
		}
	}
	if stop == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		stop = ch
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()

	select {
	case err := <-served:
		return ignoreServerClosed(err)
	case sig, ok := <-stop:
		if ok {
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ignoreServerClosed(<-served)
	}
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
