// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Auth.KeepaliveInterval.Std() != 20*time.Minute {
		t.Errorf("keepalive interval = %v, want 20m", cfg.Auth.KeepaliveInterval.Std())
	}
	if got := cfg.Order.Pacing.AfterSubmit.Std(); got != 1500*time.Millisecond {
		t.Errorf("after_submit pacing = %v, want 1.5s", got)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  timeout: 5s
trip:
  date: "2026-02-01"
  from: SZQ
  to: CSQ
  classes: [second]
order:
  pacing:
    after_submit: 3s
`)
	cfg, err := LoadFile(path, "")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Service.Timeout.Std() != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Service.Timeout.Std())
	}
	if cfg.Service.BaseURL != "https://kyfw.12306.cn" {
		t.Errorf("base_url = %q, want the default", cfg.Service.BaseURL)
	}
	if cfg.Order.Pacing.AfterSubmit.Std() != 3*time.Second {
		t.Errorf("after_submit = %v, want 3s", cfg.Order.Pacing.AfterSubmit.Std())
	}
	if cfg.Order.Pacing.AfterConfirm.Std() != time.Second {
		t.Errorf("after_confirm = %v, want the 1s default", cfg.Order.Pacing.AfterConfirm.Std())
	}
	if len(cfg.Trip.Classes) != 1 || cfg.Trip.Classes[0] != "second" {
		t.Errorf("classes = %v, want [second]", cfg.Trip.Classes)
	}
	if err := cfg.ValidateTrip(); err != nil {
		t.Errorf("ValidateTrip: %v", err)
	}
}

func TestLoadFileExpandsFromDotenv(t *testing.T) {
	directory := t.TempDir()
	configPath := filepath.Join(directory, "config.yaml")
	os.WriteFile(configPath, []byte(`
account:
  username: ${RAILCLERK_TEST_USER}
  password: ${RAILCLERK_TEST_PASSWORD:-fallback}
`), 0o600)
	os.WriteFile(filepath.Join(directory, ".env"), []byte("RAILCLERK_TEST_USER=traveller\n"), 0o600)
	t.Cleanup(func() { os.Unsetenv("RAILCLERK_TEST_USER") })

	cfg, err := LoadFile(configPath, "")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Account.Username != "traveller" {
		t.Errorf("username = %q, want traveller", cfg.Account.Username)
	}
	if cfg.Account.Password != "fallback" {
		t.Errorf("password = %q, want fallback", cfg.Account.Password)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "auth:\n  qr_timeout: soon\n")
	if _, err := LoadFile(path, ""); err == nil {
		t.Fatal("LoadFile accepted an unparseable duration")
	}
}

func TestLoadUsesEnvironmentPath(t *testing.T) {
	path := writeConfig(t, "auth:\n  method: password\n")
	t.Setenv("RAILCLERK_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Method != "password" {
		t.Errorf("method = %q, want password", cfg.Auth.Method)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Session.Backend = "sealed"
	cfg.Auth.Method = "sms"
	cfg.Captcha.Solver = "auto"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"session.recipients", "session.identity_path", "auth.method", "captcha.recognizer_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidateTrip(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TripConfig)
		wantErr string
	}{
		{"valid", func(*TripConfig) {}, ""},
		{"bad date", func(trip *TripConfig) { trip.Date = "2026/02/01" }, "trip.date"},
		{"impossible date", func(trip *TripConfig) { trip.Date = "2026-02-30" }, "trip.date"},
		{"lowercase station", func(trip *TripConfig) { trip.From = "szq" }, "trip.from"},
		{"inverted window", func(trip *TripConfig) { trip.WindowStart = "21:00" }, "start is after end"},
		{"no classes", func(trip *TripConfig) { trip.Classes = nil }, "trip.classes"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			cfg.Trip.Date, cfg.Trip.From, cfg.Trip.To = "2026-02-01", "SZQ", "CSQ"
			test.mutate(&cfg.Trip)
			err := cfg.ValidateTrip()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateTrip = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("ValidateTrip = %v, want mention of %q", err, test.wantErr)
			}
		})
	}
}
