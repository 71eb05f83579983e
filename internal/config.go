package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
	AuthModeJWT      = "jwt"
)

// Store backends.
const (
	BackendGitHub    = "github"
	BackendGitHubRaw = "github-raw"
	BackendFS        = "fs"
	BackendGit       = "git"
	BackendSQLite    = "sqlite"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Store   StoreConfig       `yaml:"store"`
	GitHub  GitHubConfig      `yaml:"github"`
	FS      FSConfig          `yaml:"fs"`
	Git     GitConfig         `yaml:"git"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Redis   RedisConfig       `yaml:"redis"`
	Auth    AuthConfig        `yaml:"auth"`
	MCP     MCPConfig         `yaml:"mcp"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// Validate validates the configuration. Only the section of the selected
// store backend is checked.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case BackendGitHub, BackendGitHubRaw:
		if err := c.GitHub.Validate(c.Store.Backend == BackendGitHub); err != nil {
			return fmt.Errorf("github: %w", err)
		}
	case BackendFS:
		if err := c.FS.Validate(); err != nil {
			return fmt.Errorf("fs: %w", err)
		}
	case BackendGit:
		if err := c.Git.Validate(); err != nil {
			return fmt.Errorf("git: %w", err)
		}
	case BackendSQLite:
		if err := c.SQLite.Validate(); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	case BackendRedis:
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
	// DataRoot prefixes every persisted path, e.g. "data".
	DataRoot string `yaml:"data_root"`
	// SSEThrottle is the minimum interval between refresh events.
	SSEThrottle time.Duration `yaml:"sse_throttle"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
		validation.Field(&c.SSEThrottle, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the file store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Watch reports out-of-band edits of the fs and git backends on the change feed.
	Watch bool `yaml:"watch"`
	// Seed creates missing empty indexes at startup.
	Seed bool `yaml:"seed"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(
			BackendGitHub, BackendGitHubRaw, BackendFS, BackendGit, BackendSQLite, BackendRedis, BackendMemory,
		)),
	)
}

// GitHubConfig holds the repository the GitHub backends operate on.
type GitHubConfig struct {
	Owner             string  `yaml:"owner"`
	Repo              string  `yaml:"repo"`
	Branch            string  `yaml:"branch"`
	Token             string  `yaml:"token"`
	APIURL            string  `yaml:"api_url"`
	RawURL            string  `yaml:"raw_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Validate validates the GitHub configuration. The token is optional for
// the raw backend, which then serves reads only.
func (c *GitHubConfig) Validate(tokenRequired bool) error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Owner, validation.Required),
		validation.Field(&c.Repo, validation.Required),
		validation.Field(&c.Branch, validation.Required),
		validation.Field(&c.Token, validation.When(tokenRequired, validation.Required)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
		validation.Field(&c.Burst, validation.Min(0)),
	)
}

// FSConfig holds the local directory of the fs backend.
type FSConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the fs configuration.
func (c *FSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// GitConfig holds the working tree and committer of the git backend.
type GitConfig struct {
	Root        string `yaml:"root"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Validate validates the git configuration.
func (c *GitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.AuthorName, validation.Required),
		validation.Field(&c.AuthorEmail, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RedisConfig holds the Redis connection of the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Validate validates the redis configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.DB, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//   - "jwt": HS256 Bearer JWT; JWTSecret must be at least 32 bytes.
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	Token     string `yaml:"token"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken, AuthModeJWT)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	if c.Mode == AuthModeJWT && len(c.JWTSecret) < 32 {
		return fmt.Errorf("auth: mode is %q but jwt_secret is shorter than 32 bytes", AuthModeJWT)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken || c.Mode == AuthModeJWT
}

// MCPConfig holds the streamable HTTP transport of the MCP server.
type MCPConfig struct {
	HTTPEnabled bool   `yaml:"http_enabled"`
	Path        string `yaml:"path"`
}

// Validate validates the MCP configuration.
func (c *MCPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.HTTPEnabled, validation.Required)),
	)
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
			HTTP: HTTPConfig{
				Port:            8080,
				ShutdownTimeout: 10 * time.Second,
			},
			DataRoot:    "data",
			SSEThrottle: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendFS,
			Watch:   true,
			Seed:    true,
		},
		GitHub: GitHubConfig{
			Branch: "main",
		},
		FS: FSConfig{
			Root: ".",
		},
		Git: GitConfig{
			Root:        ".",
			AuthorName:  "keloia",
			AuthorEmail: "keloia@localhost",
		},
		SQLite: SQLiteConfig{
			Path: "./keloia.db",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "keloia:",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		MCP: MCPConfig{
			HTTPEnabled: true,
			Path:        "/mcp",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
