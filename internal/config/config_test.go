/*
Gale Messaging Gateway - Unified SMS/MMS/Email messaging gateway.
Copyright © 2024-2026 Max Mazurov <fox.cpp@disroot.org>, Gale Messaging Gateway contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := fromEnviron(map[string]string{})
	if err != nil {
		t.Fatalf("fromEnviron: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.HealthPath != "/healthz" {
		t.Errorf("HealthPath = %q, want /healthz", cfg.HealthPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.SnippetLength != 64 {
		t.Errorf("SnippetLength = %d, want 64", cfg.SnippetLength)
	}
	if cfg.MaxBodyBytes != 262144 {
		t.Errorf("MaxBodyBytes = %d, want 262144", cfg.MaxBodyBytes)
	}
	if cfg.MaxAttachments != 8 {
		t.Errorf("MaxAttachments = %d, want 8", cfg.MaxAttachments)
	}
	if cfg.RateLimitPerIPPerMin != 120 {
		t.Errorf("RateLimitPerIPPerMin = %d, want 120", cfg.RateLimitPerIPPerMin)
	}
	if cfg.RateLimitPerSenderPerMin != 60 {
		t.Errorf("RateLimitPerSenderPerMin = %d, want 60", cfg.RateLimitPerSenderPerMin)
	}
	if cfg.BreakerErrorThreshold != 20 {
		t.Errorf("BreakerErrorThreshold = %d, want 20", cfg.BreakerErrorThreshold)
	}
	if cfg.BreakerOpenSecs != 30 {
		t.Errorf("BreakerOpenSecs = %d, want 30", cfg.BreakerOpenSecs)
	}
	if cfg.WorkerBatchSize != 10 {
		t.Errorf("WorkerBatchSize = %d, want 10", cfg.WorkerBatchSize)
	}
	if cfg.WorkerClaimTimeoutSecs != 60 {
		t.Errorf("WorkerClaimTimeoutSecs = %d, want 60", cfg.WorkerClaimTimeoutSecs)
	}
	if cfg.WorkerMaxRetries != 5 {
		t.Errorf("WorkerMaxRetries = %d, want 5", cfg.WorkerMaxRetries)
	}
	if cfg.WorkerBackoffBaseMs != 500 {
		t.Errorf("WorkerBackoffBaseMs = %d, want 500", cfg.WorkerBackoffBaseMs)
	}
	if cfg.ProviderSeed != nil {
		t.Errorf("ProviderSeed = %v, want nil", *cfg.ProviderSeed)
	}
}

func TestPortValidation(t *testing.T) {
	if _, err := fromEnviron(map[string]string{"PORT": "0"}); err == nil {
		t.Error("PORT=0 accepted, want error")
	}
	if _, err := fromEnviron(map[string]string{"PORT": "not-a-port"}); err == nil {
		t.Error("PORT=not-a-port accepted, want error")
	}
	if _, err := fromEnviron(map[string]string{"PORT": "70000"}); err == nil {
		t.Error("PORT=70000 accepted, want error")
	}

	cfg, err := fromEnviron(map[string]string{"PORT": "9090"})
	if err != nil {
		t.Fatalf("PORT=9090: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
}

func TestHealthPathNormalization(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"/healthz", "/healthz"},
		{"status", "/status"},
		{"/status/live", "/status/live"},
		{"", "/healthz"},
		{"   ", "/healthz"},
	} {
		cfg, err := fromEnviron(map[string]string{"HEALTH_PATH": tc.in})
		if err != nil {
			t.Errorf("HEALTH_PATH=%q: %v", tc.in, err)
			continue
		}
		if cfg.HealthPath != tc.want {
			t.Errorf("HEALTH_PATH=%q: got %q, want %q", tc.in, cfg.HealthPath, tc.want)
		}
	}
}

func TestSnippetLengthValidation(t *testing.T) {
	for _, bad := range []string{"0", "-3", "4097", "banana"} {
		if _, err := fromEnviron(map[string]string{"CONVERSATION_SNIPPET_LENGTH": bad}); err == nil {
			t.Errorf("CONVERSATION_SNIPPET_LENGTH=%q accepted, want error", bad)
		}
	}

	cfg, err := fromEnviron(map[string]string{"CONVERSATION_SNIPPET_LENGTH": "120"})
	if err != nil {
		t.Fatalf("CONVERSATION_SNIPPET_LENGTH=120: %v", err)
	}
	if cfg.SnippetLength != 120 {
		t.Errorf("SnippetLength = %d, want 120", cfg.SnippetLength)
	}
}

func TestLogLevelLenient(t *testing.T) {
	// Unknown levels are accepted; anything that is not "debug" just means
	// debug logging stays off.
	cfg, err := fromEnviron(map[string]string{"LOG_LEVEL": "WARN"})
	if err != nil {
		t.Fatalf("LOG_LEVEL=WARN: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Debug() {
		t.Error("Debug() = true for warn")
	}

	cfg, err = fromEnviron(map[string]string{"LOG_LEVEL": "Debug"})
	if err != nil {
		t.Fatalf("LOG_LEVEL=Debug: %v", err)
	}
	if !cfg.Debug() {
		t.Error("Debug() = false for debug")
	}
}

func TestLogFormatValidation(t *testing.T) {
	if _, err := fromEnviron(map[string]string{"LOG_FORMAT": "xml"}); err == nil {
		t.Error("LOG_FORMAT=xml accepted, want error")
	}
	for _, ok := range []string{"text", "json"} {
		if _, err := fromEnviron(map[string]string{"LOG_FORMAT": ok}); err != nil {
			t.Errorf("LOG_FORMAT=%q: %v", ok, err)
		}
	}
}

func TestFaultResolution(t *testing.T) {
	cfg, err := fromEnviron(map[string]string{
		"API_PROVIDER_TIMEOUT_PCT":         "10",
		"API_PROVIDER_ERROR_PCT":           "5",
		"API_PROVIDER_SEED":                "42",
		"API_PROVIDER_SMS_TIMEOUT_PCT":     "30",
		"API_PROVIDER_EMAIL_SEED":          "7",
		"API_PROVIDER_EMAIL_RATELIMIT_PCT": "15",
	})
	if err != nil {
		t.Fatalf("fromEnviron: %v", err)
	}

	sms := cfg.SMSFaults()
	if sms.TimeoutPct != 30 {
		t.Errorf("sms.TimeoutPct = %d, want 30 (override)", sms.TimeoutPct)
	}
	if sms.ErrorPct != 5 {
		t.Errorf("sms.ErrorPct = %d, want 5 (global)", sms.ErrorPct)
	}
	if sms.RatelimitPct != 0 {
		t.Errorf("sms.RatelimitPct = %d, want 0", sms.RatelimitPct)
	}
	if sms.Seed == nil || *sms.Seed != 42 {
		t.Errorf("sms.Seed = %v, want 42 (global)", sms.Seed)
	}

	email := cfg.EmailFaults()
	if email.TimeoutPct != 10 {
		t.Errorf("email.TimeoutPct = %d, want 10 (global)", email.TimeoutPct)
	}
	if email.RatelimitPct != 15 {
		t.Errorf("email.RatelimitPct = %d, want 15 (override)", email.RatelimitPct)
	}
	if email.Seed == nil || *email.Seed != 7 {
		t.Errorf("email.Seed = %v, want 7 (override)", email.Seed)
	}
}

func TestSourceString(t *testing.T) {
	if SourceDefault.String() != "default" || SourceEnv.String() != "env" || SourceDotenv.String() != "dotenv" {
		t.Errorf("unexpected Source strings: %v %v %v", SourceDefault, SourceEnv, SourceDotenv)
	}
}
