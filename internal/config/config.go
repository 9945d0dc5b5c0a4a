// Package config loads canvassync settings from YAML.
//
// Files are validated against an embedded CUE schema before decoding, so
// unknown keys, malformed durations and out-of-range values are reported
// with their path instead of being silently ignored. Absent keys keep
// their defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

const (
	DefaultAPIURL      = "http://localhost:3001/api"
	DefaultDebounce    = 2 * time.Second
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
	DefaultAddr        = ":3001"
	DefaultDatabase    = "canvassync.db"
)

// Config is the full settings tree.
type Config struct {
	Client Client `yaml:"client"`
	Server Server `yaml:"server"`
}

// Client configures a sync session.
type Client struct {
	APIURL    string    `yaml:"api_url"`
	Token     string    `yaml:"token,omitempty"`
	UserID    string    `yaml:"user_id,omitempty"`
	Debounce  Duration  `yaml:"debounce"`
	Reconnect Reconnect `yaml:"reconnect"`
}

// Reconnect configures the realtime retry policy.
type Reconnect struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// Server configures the hub.
type Server struct {
	Addr        string `yaml:"addr"`
	Database    string `yaml:"database"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	UploadsDir  string `yaml:"uploads_dir,omitempty"`
	Users       []User `yaml:"users,omitempty"`
}

// User is one hub account.
type User struct {
	Token    string `yaml:"token"`
	UserID   string `yaml:"user_id"`
	Name     string `yaml:"name,omitempty"`
	CanvasID string `yaml:"canvas_id,omitempty"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Client: Client{
			APIURL:   DefaultAPIURL,
			Debounce: Duration(DefaultDebounce),
			Reconnect: Reconnect{
				BaseDelay:   Duration(DefaultBaseDelay),
				MaxAttempts: DefaultMaxAttempts,
			},
		},
		Server: Server{
			Addr:     DefaultAddr,
			Database: DefaultDatabase,
		},
	}
}

// Error reports an invalid configuration file.
type Error struct {
	Path   string
	Issues []string
}

func (e *Error) Error() string {
	where := e.Path
	if where == "" {
		where = "config"
	}
	return fmt.Sprintf("CONFIG_INVALID: %s: %s", where, strings.Join(e.Issues, "; "))
}

// Load reads and validates the file at path. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	var cerr *Error
	if errors.As(err, &cerr) {
		cerr.Path = path
	}
	return cfg, err
}

// Parse validates data and decodes it over the defaults.
func Parse(data []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, &Error{Issues: []string{err.Error()}}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validate(doc); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Issues: []string{err.Error()}}
	}
	return cfg, nil
}

// validate unifies doc with #Config and requires a concrete result.
func validate(doc any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return &Error{Issues: issues(err)}
	}
	return nil
}

func issues(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		msg := e.Error()
		if path := e.Path(); len(path) > 0 {
			msg = strings.Join(path, ".") + ": " + strings.TrimPrefix(msg, strings.Join(path, ".")+": ")
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
