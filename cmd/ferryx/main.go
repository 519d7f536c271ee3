package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ferryx/internal/app"
	"ferryx/internal/config"
	"ferryx/internal/control"
	"ferryx/internal/middleware/auth/jwt"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// exitFailure is returned when the hub cannot start or stops with an error
const exitFailure = 1

// exitError carries a process exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	opts, err := config.LoadOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(control.ExitConfig)
	}
	setupLogging(opts.LogLevel, opts.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCommand(&opts, os.Stdout), os.Stderr)
	cancel()
	os.Exit(code)
}

// execute runs root and maps its error to an exit code
func execute(ctx context.Context, root *cobra.Command, errOut io.Writer) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return control.ExitOK
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(errOut, err)
	fmt.Fprintln(errOut, "Usage: ferryx [serve] | where | reconfig [--reset] | restart | jwt")
	return control.ExitUsage
}

func newRootCommand(opts *config.Options, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ferryx",
		Short:         "Ferryx deploy-notification hub",
		Long:          "Ferryx relays deploy events from authenticated publishers to subscriber groups in real time.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "config file path (env FERRYX_CONFIG)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the hub until interrupted or restarted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), opts)
			},
		},
		&cobra.Command{
			Use:   "where",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), opts.ConfigPath)
			},
		},
		newReconfigCommand(opts),
		&cobra.Command{
			Use:   "restart",
			Short: "Ask the running hub to restart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				return requestRestart(cmd, cfg.Server.ControlPort)
			},
		},
		&cobra.Command{
			Use:   "jwt",
			Short: "Print a freshly issued publisher token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				token, err := jwt.Issue(cfg.Security.JWTKey, cfg.Security.TTL())
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Token error: %v\n", err)
					return &exitError{code: control.ExitConfig}
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			},
		},
	)
	return root
}

func newReconfigCommand(opts *config.Options) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "reconfig",
		Short: "Ask the running hub to restart and pick up config changes",
		Long: "Ask the running hub to restart so it reloads its configuration. With --reset the " +
			"current file is backed up and replaced by a fresh default (new signing secret) first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if reset {
				store := config.NewStore(opts.ConfigPath, slog.Default())
				backup, fresh, err := store.Reconfig()
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Config error: %v\n", err)
					return &exitError{code: control.ExitConfig}
				}
				if backup != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Config backed up to %s\n", backup)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Default config written to %s\n", opts.ConfigPath)
				cfg = fresh
			} else {
				loaded, err := loadConfig(cmd, opts)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return requestRestart(cmd, cfg.Server.ControlPort)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "back up the config and write a fresh default before restarting")
	return cmd
}

func loadConfig(cmd *cobra.Command, opts *config.Options) (*config.Config, error) {
	cfg, err := config.NewStore(opts.ConfigPath, slog.Default()).Load()
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Config error: %v\n", err)
		return nil, &exitError{code: control.ExitConfig}
	}
	return cfg, nil
}

func requestRestart(cmd *cobra.Command, port int) error {
	code := control.NewTrigger(cmd.OutOrStdout()).RequestRestart(cmd.Context(), port)
	if code != control.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func runServe(ctx context.Context, opts *config.Options) error {
	logger := slog.Default()

	store := config.NewStore(opts.ConfigPath, logger)
	if _, err := store.Load(); err != nil {
		logger.Error("failed to load config", "path", opts.ConfigPath, "error", err)
		return &exitError{code: control.ExitConfig}
	}

	server, err := app.NewServer(ctx, store, version, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return &exitError{code: exitFailure}
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		return &exitError{code: exitFailure}
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func setupLogging(level, format string) {
	lvl, ok := logLevels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}
