package main

// root.go defines the single command of the listener and maps its flags
// onto the loaded configuration.

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gelflistener/internal/config"
	"gelflistener/internal/daemon"
	"gelflistener/internal/listener"
)

// exitError carries a process exit code out of RunE. An empty msg means
// the diagnostic was already printed.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

// execute runs the command line and returns the exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(stderr, exit.msg)
		}
		return exit.code
	}
	// flag parsing and usage errors
	fmt.Fprintln(stderr, err)
	return 2
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gelf-listener",
		Short: "Receive GELF messages and republish them to a broker",
		Long: `gelf-listener accepts GELF log messages over TCP, UDP or HTTP, tags each one
with a correlation key and the sender address, and publishes it as JSON to a
Kafka topic, Redis stream or NATS JetStream subject.

Settings come from the environment (or a .env file); flags override them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringP("broker", "b", "", "broker address (KAFKA_BROKER)")
	flags.StringP("topic", "t", "", "destination topic (KAFKA_TOPIC)")
	flags.StringP("listen", "l", "", "listen address (GELF_LISTEN_ADDR)")
	flags.BoolP("verbose", "v", false, "log every published message (VERBOSE)")
	flags.StringP("protocol", "p", "", "listener protocol: tcp, udp or http (LISTENER_PROTO)")
	flags.BoolP("daemonize", "d", false, "detach and write output to log files (DAEMONIZE)")
	flags.StringP("log-path-prefix", "L", "", "directory for daemon logs (LOG_PATH_PREFIX)")
	flags.String("broker-kind", "", "broker backend: kafka, redis or nats (BROKER_KIND)")
	flags.String("metrics-listen", "", "address for the /metrics endpoint (METRICS_LISTEN)")

	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	stringFlags := map[string]*string{
		"broker":          &cfg.Broker,
		"topic":           &cfg.Topic,
		"listen":          &cfg.ListenAddr,
		"protocol":        &cfg.Protocol,
		"log-path-prefix": &cfg.LogPathPrefix,
		"broker-kind":     &cfg.BrokerKind,
		"metrics-listen":  &cfg.MetricsListen,
	}
	for name, target := range stringFlags {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("daemonize") {
		cfg.Daemonize, _ = flags.GetBool("daemonize")
	}
}

func run(cmd *cobra.Command, stdout, stderr io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fail(1, "Failed to load config: %v", err)
	}
	applyFlags(cmd, cfg)

	// checked before anything binds
	if _, err := listener.ParseProtocol(cfg.Protocol); err != nil {
		return fail(1, "Unsupported listener type: %s", cfg.Protocol)
	}
	if err := cfg.Validate(); err != nil {
		return fail(1, "%v", err)
	}

	if cfg.Daemonize {
		files := daemon.LogFileNames(cfg.Protocol, cfg.ListenAddr, cfg.Topic, cfg.LogPathPrefix)
		pid, release, err := daemon.Daemonize(files, cfg.LogPathPrefix)
		if err != nil {
			return fail(1, "Failed to daemonize: %v", err)
		}
		if pid != 0 {
			fmt.Fprintf(stdout, "gelf-listener started in background (pid %d), logs in %s\n", pid, files.Stdout)
			return nil
		}
		defer release()
	}

	logger := newLogger(cfg, stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger, nil, nil); err != nil {
		logger.Error("listener_failed", "error", err.Error())
		return fail(1, "")
	}
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
