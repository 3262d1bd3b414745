package config

import (
	"log/slog"
	"os"
	"testing"
)

// setEnv sets an environment variable, ignoring errors (for test setup)
func setEnv(key, value string) {
	_ = os.Setenv(key, value)
}

// unsetEnv unsets an environment variable, ignoring errors (for test cleanup)
func unsetEnv(key string) {
	_ = os.Unsetenv(key)
}

func TestLoad(t *testing.T) {
	// Save original env vars
	originalEnv := make(map[string]string)
	envVars := []string{
		"EMBEDDING_DIMENSION", "LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL",
		"EMBEDDING_BASE_URL", "EMBEDDING_MODEL_NAME",
		"DB_PATH", "QDRANT_URL", "QDRANT_COLLECTION", "API_PORT",
		"MAX_RESULTS", "CITATION_STRICTNESS", "LOG_LEVEL", "LOG_FORMAT",
	}
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		unsetEnv(key)
	}
	defer func() {
		for key, value := range originalEnv {
			if value != "" {
				setEnv(key, value)
			} else {
				unsetEnv(key)
			}
		}
	}()

	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*Config) bool
	}{
		{
			name: "valid config with required fields only",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.EmbeddingDimension == 1024 &&
					cfg.MaxResults == 12 &&
					cfg.Strictness == "normal" &&
					cfg.LogLevel == slog.LevelInfo
			},
		},
		{
			name:     "missing embedding dimension",
			setupEnv: func(t *testing.T) {},
			wantErr:  true,
		},
		{
			name: "non-numeric embedding dimension",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "abc")
			},
			wantErr: true,
		},
		{
			name: "negative embedding dimension",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "-5")
			},
			wantErr: true,
		},
		{
			name: "invalid strictness",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
				setEnv("CITATION_STRICTNESS", "paranoid")
			},
			wantErr: true,
		},
		{
			name: "strict mode accepted",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
				setEnv("CITATION_STRICTNESS", "strict")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.Strictness == "strict"
			},
		},
		{
			name: "invalid max results",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
				setEnv("MAX_RESULTS", "0")
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
				setEnv("LOG_LEVEL", "verbose")
			},
			wantErr: true,
		},
		{
			name: "json log format",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIMENSION", "1024")
				setEnv("DB_PATH", t.TempDir()+"/test.db")
				setEnv("LOG_FORMAT", "json")
			},
			wantErr: false,
			checkConfig: func(cfg *Config) bool {
				return cfg.LogFormat == "json"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envVars {
				unsetEnv(key)
			}
			tt.setupEnv(t)

			cfg, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.checkConfig != nil && !tt.checkConfig(cfg) {
				t.Errorf("Load() config check failed: %+v", cfg)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseLogLevel(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLogLevel(%q) unexpected error: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}
