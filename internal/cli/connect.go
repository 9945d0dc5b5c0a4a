package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvassync/internal/canvas"
	"github.com/roach88/canvassync/internal/config"
	"github.com/roach88/canvassync/internal/engine"
	"github.com/roach88/canvassync/internal/persistence"
	"github.com/roach88/canvassync/internal/realtime"
)

// ConnectOptions holds flags for the connect command.
type ConnectOptions struct {
	*RootOptions
	APIURL   string
	Token    string
	UserID   string
	Debounce time.Duration
}

// NewConnectCommand creates the connect command.
func NewConnectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConnectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run a headless sync session",
		Long: `Join a canvas as a headless client and drive it with JSON lines on stdin.

Each input line is one command:
  {"op":"add","type":"text","content":"hi","x":10,"y":20}
  {"op":"update","id":"...","x":30}
  {"op":"remove","id":"..."}
  {"op":"clear"}
  {"op":"save"}
  {"op":"reload"}
  {"op":"elements"}
  {"op":"status"}

Each command is answered with one JSON line. Remote updates, presence
changes, saves and transport state changes are written as event lines as
they happen. The session ends at end of input; pending edits that have not
been saved yet are dropped, so finish with {"op":"save"} to keep them.

Examples:
  canvassync connect --config client.yaml
  echo '{"op":"status"}' | canvassync connect --api-url http://localhost:3001/api --token t1 --user alice`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.APIURL, "api-url", "", "hub API base URL (default "+config.DefaultAPIURL+")")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "local user id")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "save debounce window (default from config)")

	return cmd
}

func (o *ConnectOptions) apply(c *config.Client) {
	if o.APIURL != "" {
		c.APIURL = o.APIURL
	}
	if o.Token != "" {
		c.Token = o.Token
	}
	if o.UserID != "" {
		c.UserID = o.UserID
	}
	if o.Debounce > 0 {
		c.Debounce = config.Duration(o.Debounce)
	}
}

func runConnect(cmd *cobra.Command, opts *ConnectOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.apply(&cfg.Client)
	client := cfg.Client
	if client.Token == "" || client.UserID == "" {
		return NewExitError(ExitCommandError, CodeUsage, "token and user id are required (--token/--user or client section of the config)")
	}
	wsURL, err := realtime.URLFromAPI(client.APIURL)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeUsage, "invalid api url", err)
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
			slog.Info("received signal, ending session", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	out := &lineWriter{w: cmd.OutOrStdout()}
	transport := realtime.New(wsURL,
		realtime.WithBaseDelay(client.Reconnect.BaseDelay.Std()),
		realtime.WithMaxAttempts(client.Reconnect.MaxAttempts),
		realtime.WithStateHandler(func(s realtime.Status) {
			out.write(sessionEvent{Event: "transport", State: s.String()})
		}),
	)
	eng := engine.New(client.UserID, client.Token, persistence.New(client.APIURL, client.Token), transport,
		engine.WithDebounce(client.Debounce.Std()),
		engine.WithObserver(out.observe),
		engine.WithPresenceHandler(func(connected bool, partner *canvas.Partner) {
			out.write(sessionEvent{Event: "presence", Connected: &connected, Partner: partner})
		}),
	)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	select {
	case <-eng.Ready():
	case err := <-runErr:
		return WrapExitError(ExitCommandError, CodeHub, "session ended before the canvas loaded", err)
	case <-ctx.Done():
		<-runErr
		return nil
	}

	s := &session{engine: eng, out: out}
	failed, readErr := s.serve(ctx, cmd.InOrStdin())

	eng.Stop()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "error", err)
	}

	if readErr != nil {
		return WrapExitError(ExitCommandError, CodeSession, "read commands", readErr)
	}
	if failed > 0 {
		// Each failure already went out as a reply line.
		exitErr := NewExitError(ExitFailure, CodeSession, fmt.Sprintf("%d command(s) failed", failed))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

// sessionRequest is one stdin command.
type sessionRequest struct {
	Op       string         `json:"op"`
	ID       string         `json:"id,omitempty"`
	Kind     canvas.Kind    `json:"type,omitempty"`
	Content  *string        `json:"content,omitempty"`
	Points   []canvas.Point `json:"points,omitempty"`
	X        *float64       `json:"x,omitempty"`
	Y        *float64       `json:"y,omitempty"`
	Scale    *float64       `json:"scale,omitempty"`
	Rotation *float64       `json:"rotation,omitempty"`
	Style    *canvas.Style  `json:"style,omitempty"`
}

// sessionReply answers one command.
type sessionReply struct {
	Event    string           `json:"event"`
	Op       string           `json:"op"`
	OK       bool             `json:"ok"`
	ID       string           `json:"id,omitempty"`
	Error    string           `json:"error,omitempty"`
	Elements []canvas.Element `json:"elements,omitempty"`
	Status   *statusView      `json:"status,omitempty"`
}

// sessionEvent reports something the session did on its own.
type sessionEvent struct {
	Event     string          `json:"event"`
	State     string          `json:"state,omitempty"`
	Author    string          `json:"author,omitempty"`
	IDs       []string        `json:"ids,omitempty"`
	Connected *bool           `json:"connected,omitempty"`
	Partner   *canvas.Partner `json:"partner,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type statusView struct {
	Loaded           bool            `json:"loaded"`
	Saving           bool            `json:"saving"`
	PendingSave      bool            `json:"pending_save"`
	LastSaved        *time.Time      `json:"last_saved,omitempty"`
	PartnerConnected bool            `json:"partner_connected"`
	Partner          *canvas.Partner `json:"partner,omitempty"`
	Transport        string          `json:"transport"`
	Elements         int             `json:"elements"`
}

func newStatusView(st engine.Status) *statusView {
	v := &statusView{
		Loaded:           st.Loaded,
		Saving:           st.Saving,
		PendingSave:      st.PendingSave,
		PartnerConnected: st.PartnerConnected,
		Partner:          st.Partner,
		Transport:        st.Transport.String(),
		Elements:         st.Elements,
	}
	if !st.LastSaved.IsZero() {
		saved := st.LastSaved.UTC()
		v.LastSaved = &saved
	}
	return v
}

// lineWriter serializes JSON lines from the command loop and the
// session's callbacks.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) write(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.w).Encode(v); err != nil {
		slog.Error("write output line", "error", err)
	}
}

// observe turns the trace events a headless client cares about into
// event lines.
func (l *lineWriter) observe(ev engine.TraceEvent) {
	switch ev.Kind {
	case engine.TraceRemoteApplied:
		l.write(sessionEvent{Event: "remote", Author: ev.Op, IDs: ev.IDs})
	case engine.TraceSaved:
		l.write(sessionEvent{Event: "saved", IDs: ev.IDs})
	case engine.TraceSaveFailed:
		l.write(sessionEvent{Event: "save_failed", IDs: ev.IDs, Error: ev.Err.Error()})
	case engine.TraceLoadFailed:
		l.write(sessionEvent{Event: "load_failed", Error: ev.Err.Error()})
	}
}

type session struct {
	engine *engine.Engine
	out    *lineWriter
}

// serve answers commands until input ends or ctx is cancelled. It
// returns how many commands failed.
func (s *session) serve(ctx context.Context, in io.Reader) (int, error) {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 10<<20)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	failed := 0
	for {
		select {
		case <-ctx.Done():
			return failed, nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return failed, err
				default:
					return failed, nil
				}
			}
			if len(line) == 0 {
				continue
			}
			reply := s.handle(ctx, line)
			if !reply.OK {
				failed++
			}
			s.out.write(reply)
		}
	}
}

func (s *session) handle(ctx context.Context, line []byte) sessionReply {
	var req sessionRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return sessionReply{Event: "reply", Error: fmt.Sprintf("malformed command: %v", err)}
	}
	reply := sessionReply{Event: "reply", Op: req.Op}

	var err error
	switch req.Op {
	case "add":
		reply.ID, err = s.engine.AddElement(ctx, req.draft())
	case "update":
		err = s.engine.UpdateElement(ctx, req.ID, req.patch())
	case "remove":
		err = s.engine.RemoveElement(ctx, req.ID)
	case "clear":
		err = s.engine.Clear(ctx)
	case "save":
		err = s.engine.SaveNow(ctx)
	case "reload":
		reply.Elements, err = s.engine.Reload(ctx)
	case "elements":
		reply.Elements, err = s.engine.Elements(ctx)
	case "status":
		var st engine.Status
		if st, err = s.engine.Status(ctx); err == nil {
			reply.Status = newStatusView(st)
		}
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}

	if err != nil {
		slog.Debug("command failed", "op", req.Op, "error", err)
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

func (r sessionRequest) draft() canvas.Draft {
	d := canvas.Draft{Kind: r.Kind, Points: r.Points, Style: r.Style}
	if r.Content != nil {
		d.Content = *r.Content
	}
	if r.X != nil {
		d.X = *r.X
	}
	if r.Y != nil {
		d.Y = *r.Y
	}
	if r.Scale != nil {
		d.Scale = *r.Scale
	}
	if r.Rotation != nil {
		d.Rotation = *r.Rotation
	}
	return d
}

func (r sessionRequest) patch() canvas.Patch {
	return canvas.Patch{
		Content:  r.Content,
		Points:   r.Points,
		X:        r.X,
		Y:        r.Y,
		Scale:    r.Scale,
		Rotation: r.Rotation,
		Style:    r.Style,
	}
}
