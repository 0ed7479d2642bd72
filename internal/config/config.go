// Package config loads shoplist settings.
//
// Settings come from three layers, later ones winning: the defaults and
// constraints of the embedded CUE schema, an optional CUE file checked
// against that schema, and SHOPLIST_* environment variables. Command-line
// flags are applied on top by the CLI.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource string

// Config holds resolved settings.
type Config struct {
	DBPath           string
	Store            string
	Transport        string
	RedisURL         string
	Listen           string
	Peers            []string
	Discover         bool
	Relay            bool
	Heartbeat        time.Duration
	SnapshotInterval time.Duration
	GateInterval     time.Duration
	DatabaseURL      string
	InviteBaseURL    string
}

// file mirrors #Config.
type file struct {
	DB               string   `json:"db"`
	Store            string   `json:"store"`
	Transport        string   `json:"transport"`
	RedisURL         string   `json:"redis_url"`
	Listen           string   `json:"listen"`
	Peers            []string `json:"peers"`
	Discover         bool     `json:"discover"`
	Relay            bool     `json:"relay"`
	Heartbeat        string   `json:"heartbeat"`
	SnapshotInterval string   `json:"snapshot_interval"`
	GateInterval     string   `json:"gate_interval"`
	DatabaseURL      string   `json:"database_url"`
	InviteBaseURL    string   `json:"invite_base_url"`
}

// Error is a configuration error, positioned in the config file when CUE
// reports a position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load resolves settings from the schema defaults, the CUE file at path
// (skipped when path is empty) and the environment.
func Load(path string) (Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return Config{}, err
	}
	return cfg.withEnv()
}

// Parse validates CUE source against #Config and resolves defaults.
// Unknown fields are rejected.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def
	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, formatCUEError(err)
		}
		value = def.Unify(user)
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var f file
	if err := value.Decode(&f); err != nil {
		return Config{}, formatCUEError(err)
	}
	return f.resolve()
}

func (f file) resolve() (Config, error) {
	cfg := Config{
		DBPath:        f.DB,
		Store:         f.Store,
		Transport:     f.Transport,
		RedisURL:      f.RedisURL,
		Listen:        f.Listen,
		Peers:         f.Peers,
		Discover:      f.Discover,
		Relay:         f.Relay,
		DatabaseURL:   f.DatabaseURL,
		InviteBaseURL: f.InviteBaseURL,
	}
	for _, d := range []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"heartbeat", f.Heartbeat, &cfg.Heartbeat},
		{"snapshot_interval", f.SnapshotInterval, &cfg.SnapshotInterval},
		{"gate_interval", f.GateInterval, &cfg.GateInterval},
	} {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, &Error{Field: d.field, Message: err.Error()}
		}
		if parsed <= 0 {
			return Config{}, &Error{Field: d.field, Message: "must be positive"}
		}
		*d.dst = parsed
	}
	return cfg, nil
}

// withEnv applies SHOPLIST_* overrides.
func (c Config) withEnv() (Config, error) {
	c.DBPath = getenv("SHOPLIST_DB", c.DBPath)
	c.Store = getenv("SHOPLIST_STORE", c.Store)
	c.Transport = getenv("SHOPLIST_TRANSPORT", c.Transport)
	c.RedisURL = getenv("SHOPLIST_REDIS_URL", c.RedisURL)
	c.Listen = getenv("SHOPLIST_LISTEN", c.Listen)
	c.DatabaseURL = getenv("SHOPLIST_DATABASE_URL", c.DatabaseURL)
	c.InviteBaseURL = getenv("SHOPLIST_INVITE_BASE_URL", c.InviteBaseURL)
	if peers := getenv("SHOPLIST_PEERS", ""); peers != "" {
		c.Peers = splitList(peers)
	}
	c.Discover = getenvBool("SHOPLIST_DISCOVER", c.Discover)
	c.Relay = getenvBool("SHOPLIST_RELAY", c.Relay)
	c.Heartbeat = getenvDuration("SHOPLIST_HEARTBEAT", c.Heartbeat)
	c.SnapshotInterval = getenvDuration("SHOPLIST_SNAPSHOT_INTERVAL", c.SnapshotInterval)
	c.GateInterval = getenvDuration("SHOPLIST_GATE_INTERVAL", c.GateInterval)

	return c, c.Validate()
}

// Validate checks the enumerated settings. Parse enforces them for files;
// this catches values that arrive through the environment or flags.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite", "bolt":
	default:
		return &Error{Field: "store", Message: fmt.Sprintf("unknown store %q (want sqlite or bolt)", c.Store)}
	}
	switch c.Transport {
	case "memory", "redis", "ws":
	default:
		return &Error{Field: "transport", Message: fmt.Sprintf("unknown transport %q (want memory, redis or ws)", c.Transport)}
	}
	if c.DBPath == "" {
		return &Error{Field: "db", Message: "path is empty"}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	field := strings.Join(first.Path(), ".")
	if field == "" {
		field = "config"
	}
	msg := first.Error()
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Field: field, Message: msg, Pos: positions[0]}
	}
	return &Error{Field: field, Message: msg}
}
