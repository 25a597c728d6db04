package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/logger"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/engine"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile      string
	logLevel     string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - privacy-scoped memory for conversational agents",
	Long: `Recall stores consolidated facts about people, retrieves them with hybrid
lexical and vector search, and never lets a fact leak out of the privacy
scope it was learned in. Confidence grows with use and decays with neglect.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.recall/recall.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "text", "output format: text or json")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// session is an opened engine together with the logger it writes to
type session struct {
	cfg    *config.Config
	log    *logger.Logger
	engine *engine.Engine
}

func (s *session) Close() error {
	err := s.engine.Close()
	s.log.Close()
	return err
}

// openSession loads config, sets up logging and the audit trail and opens
// the engine. console controls whether logs are also written to stderr.
func openSession(console bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		MaxBackup: cfg.Logging.MaxBackups,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := observability.InitAuditLogger(logger.RotationConfig{
		Path:       cfg.Audit.File,
		MaxSizeMB:  cfg.Audit.MaxSize,
		MaxBackups: cfg.Audit.MaxBackups,
		Compress:   cfg.Audit.Compress,
	}); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	eng, err := engine.New(cfg, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open memory engine: %w", err)
	}

	return &session{cfg: cfg, log: log, engine: eng}, nil
}

// commandContext gives each command invocation its own trace and request id
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return tracing.NewRequestContext(ctx)
}

func jsonOutput() bool {
	return outputFormat == "json"
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
