package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tagledger/internal/frontmatter"
	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/tagservice"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Vault     VaultConfig       `yaml:"vault"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	TagDetail TagDetailConfig   `yaml:"tag_detail"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.TagDetail.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
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

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
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

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// TagDetailConfig configures tag detail tracking. Enabled, StoreIn and
// Schemas are only defaults: once settings have been saved, the saved values win.
type TagDetailConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	StoreIn        string               `yaml:"store_in"`
	FrontmatterKey string               `yaml:"frontmatter_key"`
	OnAmbiguous    string               `yaml:"on_ambiguous"`
	CacheSize      int                  `yaml:"cache_size"`
	Schemas        []settings.TagSchema `yaml:"schemas"`
}

// Validate validates the tag detail configuration.
func (c *TagDetailConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.StoreIn, validation.Required,
			validation.In(string(settings.StoreInYAML), string(settings.StoreInPlugin))),
		validation.Field(&c.FrontmatterKey, validation.Required),
		validation.Field(&c.OnAmbiguous, validation.Required,
			validation.In(string(tagservice.PolicyApply), string(tagservice.PolicySkip), string(tagservice.PolicyFlag))),
		validation.Field(&c.CacheSize, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("tag_detail: %w", err)
	}
	opts := c.SettingsDefaults()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("tag_detail: %w", err)
	}
	return nil
}

// SettingsDefaults returns the settings used until settings are saved.
func (c *TagDetailConfig) SettingsDefaults() settings.Options {
	return settings.Options{
		UseTagDetail: c.Enabled,
		StoreIn:      settings.StorageMode(c.StoreIn),
		Schemas:      c.Schemas,
	}
}

// ServiceOptions returns the tag service options. onEvent may be nil.
func (c *TagDetailConfig) ServiceOptions(onEvent tagservice.EventFunc) tagservice.Options {
	return tagservice.Options{
		FrontmatterKey: c.FrontmatterKey,
		OnAmbiguous:    tagservice.Policy(c.OnAmbiguous),
		CacheSize:      c.CacheSize,
		OnEvent:        onEvent,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./tagledger.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		TagDetail: TagDetailConfig{
			Enabled:        true,
			StoreIn:        string(settings.StoreInYAML),
			FrontmatterKey: frontmatter.DefaultKey,
			OnAmbiguous:    string(tagservice.PolicyApply),
			CacheSize:      256,
		},
	}
}
