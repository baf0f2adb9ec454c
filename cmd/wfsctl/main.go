package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danmuck/wfsctl/internal/config"
	"github.com/danmuck/wfsctl/internal/logging"
	"github.com/danmuck/wfsctl/internal/observability"
	"github.com/danmuck/wfsctl/pkg/wfs"
	"github.com/rs/zerolog/log"
)

const usage = `usage: wfsctl [flags] <command> [args]

commands:
  append <local-file> [remote-name]   upload a file
  get <remote-name> [local-file]      download a file (stdout when no local file)
  delete <remote-name>                delete a file
  rename <remote-name> <new-name>     rename a file
  ping                                send one liveness probe
  watch                               hold a session open and serve /healthz and /metrics
  init [path]                         write a default config file

flags:
`

var errUsage = errors.New("usage")

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type globals struct {
	configPath string
	host       string
	port       int
	tls        bool
	name       string
	force      bool
	timeout    time.Duration
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wfsctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var g globals
	fs.StringVar(&g.configPath, "config", "", "config file (TOML)")
	fs.StringVar(&g.host, "host", "", "service host")
	fs.IntVar(&g.port, "port", 0, "service port")
	fs.BoolVar(&g.tls, "tls", false, "use TLS")
	fs.StringVar(&g.name, "name", "", "account name (secret comes from the config or "+config.SecretEnv+")")
	fs.BoolVar(&g.force, "force", false, "init: overwrite an existing config")
	fs.DurationVar(&g.timeout, "timeout", 30*time.Second, "bound for one-shot commands")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	if cmd == "init" {
		err = runInit(rest, g.force, stdout)
	} else {
		err = runSession(ctx, fs, g, cmd, rest, stdout)
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "wfsctl: %v\n", err)
		fs.Usage()
		return 2
	default:
		fmt.Fprintf(stderr, "wfsctl: %v\n", err)
		return 1
	}
}

func runInit(args []string, force bool, stdout io.Writer) error {
	path := "wfsctl.toml"
	if len(args) > 0 {
		path = args[0]
	}
	if err := config.WriteTemplate(path, force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote config template to %s\n", path)
	return nil
}

func loadConfig(fs *flag.FlagSet, g globals) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Endpoint.Host = g.host
		case "port":
			cfg.Endpoint.Port = g.port
		case "tls":
			cfg.Endpoint.TLS = g.tls
		case "name":
			cfg.Credentials.Name = g.name
		}
	})
	return cfg, config.Validate(cfg)
}

func runSession(ctx context.Context, fs *flag.FlagSet, g globals, cmd string, args []string, stdout io.Writer) error {
	if err := checkArgs(cmd, args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs, g)
	if err != nil {
		return err
	}

	if cmd != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	h, err := wfs.OpenEndpoint(ctx, cfg.WFSEndpoint(), cfg.WFSCredentials(), cfg.WFSConfig())
	if err != nil {
		return err
	}
	defer h.Close()

	switch cmd {
	case "append":
		return appendFile(ctx, h, args, stdout)
	case "get":
		return getFile(ctx, h, args, stdout)
	case "delete":
		return ackResult(stdout, h.Delete(ctx, args[0]))
	case "rename":
		return ackResult(stdout, h.Rename(ctx, args[0], args[1]))
	case "ping":
		code := h.Ping(ctx)
		fmt.Fprintf(stdout, "pong %d\n", code)
		if code == 0 {
			return errors.New("service unhealthy")
		}
		return nil
	case "watch":
		return watch(ctx, h, cfg)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func checkArgs(cmd string, args []string) error {
	lo, hi := 0, 0
	switch cmd {
	case "append", "get":
		lo, hi = 1, 2
	case "delete":
		lo, hi = 1, 1
	case "rename":
		lo, hi = 2, 2
	case "ping", "watch":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if len(args) < lo || len(args) > hi {
		return fmt.Errorf("%w: %s takes %d to %d arguments", errUsage, cmd, lo, hi)
	}
	return nil
}

func appendFile(ctx context.Context, h *wfs.Handle, args []string, stdout io.Writer) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	name := filepath.Base(args[0])
	if len(args) > 1 {
		name = args[1]
	}
	return ackResult(stdout, h.Append(ctx, wfs.File{Name: name, Data: data}))
}

func getFile(ctx context.Context, h *wfs.Handle, args []string, stdout io.Writer) error {
	d, ok := h.Fetch(ctx, args[0])
	if !ok {
		return fmt.Errorf("fetch %s failed", args[0])
	}
	if len(args) > 1 {
		return os.WriteFile(args[1], d.Data, 0o644)
	}
	_, err := stdout.Write(d.Data)
	return err
}

func ackResult(stdout io.Writer, ack wfs.Ack) error {
	if !ack.OK {
		if ack.Err != nil {
			return ack.Err
		}
		return errors.New("operation failed")
	}
	fmt.Fprintln(stdout, "ok")
	return nil
}

// watch keeps the session open until ctx ends, serving its status.
func watch(ctx context.Context, h *wfs.Handle, cfg config.Config) error {
	logger := log.With().Str("component", "wfsctl").Str("session", h.ID()).Logger()
	router := observability.NewStatusRouter(logger, func() observability.SessionStatus {
		ep := h.Endpoint()
		return observability.SessionStatus{
			ID:       h.ID(),
			Endpoint: ep.Address(),
			TLS:      ep.TLS,
			State:    h.State().String(),
			Failures: h.Failures(),
		}
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("status server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(cfg.Session.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return fmt.Errorf("status server: %w", err)
		case <-ticker.C:
			logger.Debug().
				Str("state", h.State().String()).
				Int("failures", h.Failures()).
				Msg("session status")
		}
	}
}
