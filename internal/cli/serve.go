package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory engine in the foreground",
	Long: `Run the memory engine in the foreground.
Starts the reinforcement workers, the decay schedule, the metrics endpoint and
the config watcher, then blocks until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.log.GetZerolog()

	pidFile := getPIDFilePath(s.cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("recall is already running (PID file: %s)", pidFile)
	}
	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	if s.cfg.Tracing.Enabled {
		tc := tracing.Config{
			ServiceName:    s.cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    s.cfg.Tracing.SampleRatio,
		}
		if s.cfg.Tracing.Exporter == "log" {
			tc.Exporter = tracing.NewLogExporter(log)
		}
		if err := tracing.InitOpenTelemetry(tc); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	if err := s.engine.Start(); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:              s.cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("listen", s.cfg.Metrics.Listen).Msg("Metrics endpoint failed")
			}
		}()
		log.Info().Str("listen", s.cfg.Metrics.Listen).Msg("Metrics endpoint listening")
	}

	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), log, s.engine.ApplyConfig)
	if err != nil {
		log.Warn().Err(err).Msg("Config hot reload disabled")
	} else {
		defer watcher.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Fprintf(cmd.OutOrStdout(), "Recall is running (PID %d). Press Ctrl+C to stop.\n", os.Getpid())

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-cmd.Context().Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics endpoint shutdown failed")
		}
	}

	return nil
}

func getPIDFilePath(dataDir string) string {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "/tmp/recall.pid"
		}
		dataDir = filepath.Join(home, ".recall")
	}
	return filepath.Join(dataDir, "recall.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	// Check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
