package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the DayLog backend, loaded from a
// YAML file. Missing fields fall back to built-in defaults.
type Config struct {
	Timezone             string       `yaml:"timezone"`
	NotificationInterval int          `yaml:"notification_interval_minutes"`
	Sheets               SheetsConfig `yaml:"sheets"`
}

// SheetsConfig holds the Google Sheets ledger settings. When the credentials
// file is absent the ledger integration is disabled and completed sessions
// are only kept in the primary store.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// supportedTimezones is the fixed set of reporting timezones users can pick
// from. Entries outside this set are rejected at load time.
var supportedTimezones = []string{
	"Asia/Tokyo",
	"America/New_York",
	"America/Los_Angeles",
	"Europe/London",
	"Asia/Shanghai",
	"Asia/Kolkata",
	"Europe/Paris",
	"Australia/Sydney",
	"Pacific/Auckland",
}

// DefaultTimezone is the reporting timezone used when none is configured.
const DefaultTimezone = "Asia/Tokyo"

func defaultConfig() Config {
	return Config{
		Timezone:             DefaultTimezone,
		NotificationInterval: 60,
	}
}

// Load reads the config file at path and fills unset fields with defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
	if cfg.NotificationInterval <= 0 {
		cfg.NotificationInterval = 60
	}

	if !timezoneSupported(cfg.Timezone) {
		return defaultConfig(), fmt.Errorf("unsupported timezone %q", cfg.Timezone)
	}

	return cfg, nil
}

func timezoneSupported(name string) bool {
	for _, tz := range supportedTimezones {
		if tz == name {
			return true
		}
	}
	return false
}

// Location resolves the configured reporting timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SheetsEnabled reports whether the spreadsheet ledger is configured.
func (c Config) SheetsEnabled() bool {
	return c.Sheets.SpreadsheetID != "" && c.Sheets.CredentialsFile != ""
}
