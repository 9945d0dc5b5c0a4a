package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvassync/internal/config"
	"github.com/roach88/canvassync/internal/hub"
	"github.com/roach88/canvassync/internal/store"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	Database    string
	PostgresURL string
	RedisAddr   string
	UploadsDir  string

	// listening is called with the bound address once the hub accepts
	// connections.
	listening func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the canvas hub",
		Long: `Run the hub that stores canvases and relays updates between partners.

Users come from the server.users section of the config file; users that
share a canvas_id are partners. Canvases are kept in SQLite unless a
Postgres URL is given. With a Redis address, updates are fanned out
through Redis pub/sub so several hub instances can share a canvas.

Examples:
  canvassync serve --config canvassync.yaml
  canvassync serve --config canvassync.yaml --addr :8080 --db /var/lib/canvassync.db
  canvassync serve --config canvassync.yaml --postgres postgres://localhost/canvas --redis localhost:6379`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, "+config.DefaultAddr+")")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&opts.PostgresURL, "postgres", "", "Postgres URL; replaces SQLite")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis", "", "Redis address for cross-instance fan-out")
	cmd.Flags().StringVar(&opts.UploadsDir, "uploads", "", "directory for uploaded images")

	return cmd
}

func (o *ServeOptions) apply(s *config.Server) {
	if o.Addr != "" {
		s.Addr = o.Addr
	}
	if o.Database != "" {
		s.Database = o.Database
	}
	if o.PostgresURL != "" {
		s.PostgresURL = o.PostgresURL
	}
	if o.RedisAddr != "" {
		s.RedisAddr = o.RedisAddr
	}
	if o.UploadsDir != "" {
		s.UploadsDir = o.UploadsDir
	}
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.apply(&cfg.Server)
	if len(cfg.Server.Users) == 0 {
		return NewExitError(ExitCommandError, CodeConfig, "no users configured: add server.users to the config file")
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	repo, err := openRepository(ctx, cfg.Server)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeServe, "open canvas store", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("error closing canvas store", "error", closeErr)
		}
	}()

	relay, err := openRelay(ctx, cfg.Server)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeServe, "connect relay", err)
	}

	hubOpts := []hub.Option{hub.WithRelay(relay)}
	if dir := cfg.Server.UploadsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = relay.Close()
			return WrapExitError(ExitCommandError, CodeServe, "create uploads directory", err)
		}
		hubOpts = append(hubOpts, hub.WithUploadsDir(dir))
	}

	h, err := hub.New(repo, hubUsers(cfg.Server.Users), hubOpts...)
	if err != nil {
		_ = relay.Close()
		return WrapExitError(ExitCommandError, CodeServe, "configure hub", err)
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			slog.Error("error closing hub", "error", closeErr)
		}
	}()
	if err := h.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, CodeServe, "start hub", err)
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeServe, "listen", err)
	}
	server := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	slog.Info("hub listening", "addr", ln.Addr().String(), "users", len(cfg.Server.Users))
	if opts.listening != nil {
		opts.listening(ln.Addr())
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitCommandError, CodeServe, "serve", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	slog.Info("hub stopped")
	return nil
}

func openRepository(ctx context.Context, s config.Server) (store.Repository, error) {
	if s.PostgresURL != "" {
		slog.Info("opening postgres store")
		return store.OpenPostgres(ctx, s.PostgresURL)
	}
	slog.Info("opening sqlite store", "path", s.Database)
	return store.Open(s.Database)
}

func openRelay(ctx context.Context, s config.Server) (hub.Relay, error) {
	if s.RedisAddr != "" {
		slog.Info("using redis relay", "addr", s.RedisAddr)
		return hub.NewRedisRelay(ctx, s.RedisAddr)
	}
	return hub.NewLocalRelay(), nil
}

func hubUsers(users []config.User) []hub.User {
	out := make([]hub.User, len(users))
	for i, u := range users {
		out[i] = hub.User{Token: u.Token, UserID: u.UserID, Name: u.Name, CanvasID: u.CanvasID}
	}
	return out
}
