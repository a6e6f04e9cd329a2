package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daylog/daylog/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daylog.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != config.DefaultTimezone {
		t.Errorf("timezone = %q, want %q", cfg.Timezone, config.DefaultTimezone)
	}
	if cfg.NotificationInterval != 60 {
		t.Errorf("notification interval = %d, want 60", cfg.NotificationInterval)
	}
	if cfg.SheetsEnabled() {
		t.Error("sheets enabled without any sheets settings")
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
timezone: Europe/London
notification_interval_minutes: 30
sheets:
  spreadsheet_id: abc123
  credentials_file: /etc/daylog/sa.json
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != "Europe/London" {
		t.Errorf("timezone = %q, want Europe/London", cfg.Timezone)
	}
	if cfg.NotificationInterval != 30 {
		t.Errorf("notification interval = %d, want 30", cfg.NotificationInterval)
	}
	if !cfg.SheetsEnabled() {
		t.Error("sheets not enabled despite full sheets settings")
	}

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Europe/London" {
		t.Errorf("location = %q, want Europe/London", loc)
	}
}

func TestLoadFillsPartialConfig(t *testing.T) {
	path := writeConfig(t, "notification_interval_minutes: 15\n")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timezone != config.DefaultTimezone {
		t.Errorf("timezone = %q, want default", cfg.Timezone)
	}
	if cfg.NotificationInterval != 15 {
		t.Errorf("notification interval = %d, want 15", cfg.NotificationInterval)
	}
}

func TestLoadRejectsUnsupportedTimezone(t *testing.T) {
	path := writeConfig(t, "timezone: Mars/Olympus\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unsupported timezone")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "timezone: [unclosed\n")
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestSheetsEnabledNeedsBothFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SheetsConfig
		want bool
	}{
		{"both set", config.SheetsConfig{SpreadsheetID: "id", CredentialsFile: "f"}, true},
		{"id only", config.SheetsConfig{SpreadsheetID: "id"}, false},
		{"credentials only", config.SheetsConfig{CredentialsFile: "f"}, false},
		{"neither", config.SheetsConfig{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Config{Sheets: tt.cfg}
			if got := cfg.SheetsEnabled(); got != tt.want {
				t.Errorf("SheetsEnabled = %v, want %v", got, tt.want)
			}
		})
	}
}
