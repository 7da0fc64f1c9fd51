package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment overrides applied after the file is decoded.
const (
	EnvDatabaseURL   = "WPPIMPORT_DATABASE_URL"
	EnvHelpdeskToken = "WPPIMPORT_HELPDESK_TOKEN"
	EnvListen        = "WPPIMPORT_LISTEN"
)

// Resolver kinds accepted by import.resolver.
const (
	ResolverSQL = "sql"
	ResolverAPI = "api"
)

var instanceName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Config represents ~/.wppimport/config.toml.
type Config struct {
	DefaultInstance string     `toml:"default_instance"`
	Database        Database   `toml:"database"`
	Import          Import     `toml:"import"`
	Helpdesk        Helpdesk   `toml:"helpdesk"`
	HTTP            HTTP       `toml:"http"`
	Instances       []Instance `toml:"instances"`
}

type Database struct {
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

type Import struct {
	ContactChunkSize int    `toml:"contact_chunk_size"`
	MessageChunkSize int    `toml:"message_chunk_size"`
	LabelColor       string `toml:"label_color"`
	Resolver         string `toml:"resolver"`
	AutoImport       bool   `toml:"auto_import"`
}

type Helpdesk struct {
	BaseURL  string   `toml:"base_url"`
	APIToken string   `toml:"api_token"`
	Timeout  Duration `toml:"timeout"`
}

type HTTP struct {
	Listen string `toml:"listen"`
}

// Instance binds a WhatsApp session to a helpdesk account and inbox.
type Instance struct {
	Name      string `toml:"name"`
	AccountID int64  `toml:"account_id"`
	InboxID   int64  `toml:"inbox_id"`
}

// Duration decodes TOML strings such as "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads config from the given path, applies environment overrides and
// defaults, and validates the result. A .env file in the working directory is
// loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvHelpdeskToken); v != "" {
		c.Helpdesk.APIToken = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.HTTP.Listen = v
	}
}

func (c *Config) applyDefaults() {
	if c.DefaultInstance == "" {
		c.DefaultInstance = "main"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Import.ContactChunkSize <= 0 {
		c.Import.ContactChunkSize = 500
	}
	if c.Import.MessageChunkSize <= 0 {
		c.Import.MessageChunkSize = 2000
	}
	if c.Import.LabelColor == "" {
		c.Import.LabelColor = "#1F93FF"
	}
	if c.Import.Resolver == "" {
		c.Import.Resolver = ResolverSQL
	}
	if c.Helpdesk.Timeout.Duration <= 0 {
		c.Helpdesk.Timeout.Duration = 10 * time.Second
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = "127.0.0.1:8089"
	}
}

// Validate checks instance bindings and the resolver kind.
func (c *Config) Validate() error {
	switch c.Import.Resolver {
	case ResolverSQL:
	case ResolverAPI:
		if c.Helpdesk.BaseURL == "" {
			return fmt.Errorf("import.resolver %q requires helpdesk.base_url", ResolverAPI)
		}
	default:
		return fmt.Errorf("unknown import.resolver %q", c.Import.Resolver)
	}

	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if !instanceName.MatchString(inst.Name) {
			return fmt.Errorf("instances[%d]: invalid name %q: must match %s", i, inst.Name, instanceName)
		}
		if seen[inst.Name] {
			return fmt.Errorf("instances[%d]: duplicate name %q", i, inst.Name)
		}
		seen[inst.Name] = true
		if inst.AccountID <= 0 || inst.InboxID <= 0 {
			return fmt.Errorf("instance %q: account_id and inbox_id must be positive", inst.Name)
		}
	}
	return nil
}

// Instance returns the binding of the named instance.
func (c *Config) Instance(name string) (Instance, bool) {
	for _, inst := range c.Instances {
		if inst.Name == name {
			return inst, true
		}
	}
	return Instance{}, false
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
