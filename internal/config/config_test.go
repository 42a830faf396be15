package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("minilake-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.Service.Name != "minilake-api" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Storage.Type != "local" {
		t.Fatalf("Storage.Type = %q", cfg.Storage.Type)
	}
	if cfg.Storage.LocalRoot != "delta-tables" {
		t.Fatalf("Storage.LocalRoot = %q", cfg.Storage.LocalRoot)
	}
	if cfg.Database.Path != "" {
		t.Fatalf("Database.Path = %q, want in-memory default", cfg.Database.Path)
	}
	if cfg.S3.Endpoint != "localhost:9000" {
		t.Fatalf("S3.Endpoint = %q", cfg.S3.Endpoint)
	}
	if cfg.S3.Bucket != "minilake" {
		t.Fatalf("S3.Bucket = %q", cfg.S3.Bucket)
	}
	if cfg.S3.UseSSL {
		t.Fatal("S3.UseSSL should default to false in dev")
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadProdProfileOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{"MINILAKE_PROFILE": "prod"})
	cfg, err := Load("minilake-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.S3.UseSSL {
		t.Fatal("S3.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{"MINILAKE_PROFILE": "test"})
	cfg, err := Load("minilake-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"MINILAKE_HTTP_ADDR":          ":9999",
		"MINILAKE_HTTP_READ_TIMEOUT":  "15s",
		"MINILAKE_DATABASE_PATH":      "/var/lib/minilake/meta.duckdb",
		"MINILAKE_STORAGE_TYPE":       "s3",
		"MINILAKE_STORAGE_LOCAL_ROOT": "/tmp/tables",
		"MINILAKE_S3_ENDPOINT":        "minio.internal:9000",
		"MINILAKE_S3_BUCKET":          "prod-lake",
		"MINILAKE_S3_ACCESS_KEY":      "key",
		"MINILAKE_S3_SECRET_KEY":      "secret",
		"MINILAKE_S3_USE_SSL":         "true",
		"MINILAKE_S3_PREFIX":          "minilake/prod",
		"MINILAKE_LOG_LEVEL":          "error",
		"MINILAKE_LOG_JSON":           "false",
	})
	cfg, err := Load("minilake-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %v", cfg.HTTP.ReadTimeout)
	}
	if cfg.Database.Path != "/var/lib/minilake/meta.duckdb" {
		t.Fatalf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Storage.Type != "s3" {
		t.Fatalf("Storage.Type = %q", cfg.Storage.Type)
	}
	if cfg.S3.Endpoint != "minio.internal:9000" || cfg.S3.Bucket != "prod-lake" {
		t.Fatalf("S3 = %+v", cfg.S3)
	}
	if cfg.S3.Prefix != "minilake/prod" || !cfg.S3.UseSSL {
		t.Fatalf("S3 = %+v", cfg.S3)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON should be overridden to false")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]string
	}{
		{"invalid profile", map[string]string{"MINILAKE_PROFILE": "staging"}},
		{"invalid storage type", map[string]string{"MINILAKE_STORAGE_TYPE": "azure"}},
		{"invalid duration", map[string]string{"MINILAKE_HTTP_READ_TIMEOUT": "soon"}},
		{"invalid bool", map[string]string{"MINILAKE_S3_USE_SSL": "yep"}},
		{"invalid log level", map[string]string{"MINILAKE_LOG_LEVEL": "loud"}},
		{"blank http addr", map[string]string{"MINILAKE_HTTP_ADDR": "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load("minilake-api", mapLookup(tc.values)); err == nil {
				t.Fatalf("Load() expected error for %v", tc.values)
			}
		})
	}
}

func TestLoadRequiresLookup(t *testing.T) {
	if _, err := Load("minilake-api", nil); err == nil {
		t.Fatal("Load() expected error for nil lookup")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
