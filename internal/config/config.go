// Package config loads the daemon configuration: general settings, API
// listeners, and the three source lists (RSS, REST, streaming).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/marketdeck/marketd/internal/models"
)

// General holds process-wide settings.
type General struct {
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
	DBPath             string `yaml:"db_path"`
	LogLevel           string `yaml:"log_level"`
	MaxItemsPerSource  int    `yaml:"max_items_per_source"`
}

// API holds listener settings for the two front-ends.
type API struct {
	HTTPPort   int    `yaml:"http_port"`
	UnixSocket string `yaml:"unix_socket"`
}

// RSSSource describes one RSS/Atom feed.
type RSSSource struct {
	Name               string `yaml:"name"`
	URL                string `yaml:"url"`
	Category           string `yaml:"category"`
	RefreshIntervalSec int    `yaml:"refresh_interval_sec"`
	Tier               int    `yaml:"tier"`
	Region             string `yaml:"region"`
	Country            string `yaml:"country"`
}

// RESTSource describes one polled JSON endpoint together with the
// declarative field mapping the parsing engine applies to its responses.
type RESTSource struct {
	Name               string   `yaml:"name"`
	BaseURL            string   `yaml:"base_url"`
	Endpoint           string   `yaml:"endpoint"`
	Method             string   `yaml:"method"`
	Params             string   `yaml:"params"`
	PostBody           string   `yaml:"post_body"`
	APIKeyHeader       string   `yaml:"api_key_header"`
	APIKey             string   `yaml:"api_key"`
	Category           string   `yaml:"category"`
	Currency           string   `yaml:"currency"`
	RefreshIntervalSec int      `yaml:"refresh_interval_sec"`
	Tier               int      `yaml:"tier"`
	Symbols            []string `yaml:"symbols"`

	DataPath       string `yaml:"data_path"`
	FieldSymbol    string `yaml:"field_symbol"`
	FieldPrice     string `yaml:"field_price"`
	FieldChange    string `yaml:"field_change"`
	FieldVolume    string `yaml:"field_volume"`
	FieldName      string `yaml:"field_name"`
	FieldPrevClose string `yaml:"field_prev_close"`
}

// StreamSource describes one streaming socket connection.
type StreamSource struct {
	Name                 string `yaml:"name"`
	URL                  string `yaml:"url"`
	Category             string `yaml:"category"`
	SubscribeMessage     string `yaml:"subscribe_message"`
	ReconnectIntervalSec int    `yaml:"reconnect_interval_sec"`
}

// Sources groups the three source lists.
type Sources struct {
	RSS       []RSSSource    `yaml:"rss"`
	REST      []RESTSource   `yaml:"rest"`
	WebSocket []StreamSource `yaml:"websocket"`
}

// Config is the full daemon configuration.
type Config struct {
	General General `yaml:"general"`
	API     API     `yaml:"api"`
	Sources Sources `yaml:"sources"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		General: General{
			RefreshIntervalSec: 30,
			DBPath:             "~/.marketd/marketd.db",
			LogLevel:           "info",
			MaxItemsPerSource:  50,
		},
		API: API{
			HTTPPort:   8420,
			UnixSocket: "~/.marketd/marketd.sock",
		},
	}
}

// Load reads and validates the configuration file at path, overlaying it on
// the defaults. Source entries missing a name or an address are dropped
// with a warning rather than failing the load.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.General.RefreshIntervalSec <= 0 {
		c.General.RefreshIntervalSec = 30
	}
	if c.General.MaxItemsPerSource <= 0 {
		c.General.MaxItemsPerSource = 50
	}
	c.General.DBPath = ExpandTilde(c.General.DBPath)
	c.API.UnixSocket = ExpandTilde(c.API.UnixSocket)

	rss := c.Sources.RSS[:0]
	for _, s := range c.Sources.RSS {
		if s.Name == "" || s.URL == "" {
			log.Warn().Str("name", s.Name).Str("url", s.URL).Msg("Dropping malformed RSS source")
			continue
		}
		if s.RefreshIntervalSec <= 0 {
			s.RefreshIntervalSec = c.General.RefreshIntervalSec
		}
		rss = append(rss, s)
	}
	c.Sources.RSS = rss

	rest := c.Sources.REST[:0]
	for _, s := range c.Sources.REST {
		if s.Name == "" || s.BaseURL == "" {
			log.Warn().Str("name", s.Name).Str("base_url", s.BaseURL).Msg("Dropping malformed REST source")
			continue
		}
		if s.Method == "" {
			s.Method = "GET"
		}
		if s.Currency == "" {
			s.Currency = "USD"
		}
		if s.RefreshIntervalSec <= 0 {
			s.RefreshIntervalSec = c.General.RefreshIntervalSec
		}
		rest = append(rest, s)
	}
	c.Sources.REST = rest

	ws := c.Sources.WebSocket[:0]
	for _, s := range c.Sources.WebSocket {
		if s.Name == "" || s.URL == "" {
			log.Warn().Str("name", s.Name).Str("url", s.URL).Msg("Dropping malformed websocket source")
			continue
		}
		if s.ReconnectIntervalSec <= 0 {
			s.ReconnectIntervalSec = 5
		}
		ws = append(ws, s)
	}
	c.Sources.WebSocket = ws
}

// CategoryOf resolves a source's configured category string.
func CategoryOf(s string) models.Category {
	return models.ParseCategory(strings.TrimSpace(s))
}

// ExpandTilde replaces a leading ~ with the user's home directory.
func ExpandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
