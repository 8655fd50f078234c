package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvHost, EnvPort, EnvLibrary, EnvBackupDir} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "spooltag.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Address(); got != "127.0.0.1:32146" {
		t.Errorf("Address() = %q", got)
	}
	if !cfg.BackupsEnabled() {
		t.Error("backups should be enabled by default")
	}
	if cfg.Library.CreateParsed {
		t.Error("create_parsed should default to false")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "tags"), 0o755); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, dir, `
server:
  host: 0.0.0.0
  port: 9000
library:
  dir: tags
  create_parsed: true
backup:
  dir: /var/backups/spooltag
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Address() != "0.0.0.0:9000" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if want := filepath.Join(dir, "tags"); cfg.Library.Dir != want {
		t.Errorf("Library.Dir = %q, want %q", cfg.Library.Dir, want)
	}
	if !cfg.Library.CreateParsed {
		t.Error("create_parsed should be true")
	}
	if cfg.Backup.Dir != "/var/backups/spooltag" {
		t.Errorf("absolute Backup.Dir changed to %q", cfg.Backup.Dir)
	}
	if cfg.BackupsEnabled() {
		t.Error("backups should be disabled")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, t.TempDir(), "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of empty file failed: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "server:\n  port: 9000\n")

	t.Setenv(EnvHost, "localhost")
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvLibrary, dir)
	t.Setenv(EnvBackupDir, "/tmp/bk")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Address() != "localhost:9100" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.Library.Dir != dir || cfg.Backup.Dir != "/tmp/bk" {
		t.Errorf("dirs = %q / %q", cfg.Library.Dir, cfg.Backup.Dir)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		wantErr string
	}{
		{"unknown field", "server:\n  hots: x\n", nil, "field hots not found"},
		{"bad port", "server:\n  port: 70000\n", nil, "config.server.port"},
		{"zero port", "server:\n  port: 0\n", nil, "config.server.port"},
		{"empty host", "server:\n  host: \" \"\n", nil, "config.server.host is required"},
		{"missing library", "library:\n  dir: nope\n", nil, "config.library.dir"},
		{"env port", "", map[string]string{EnvPort: "abc"}, EnvPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.content)

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func TestLibraryDirMustBeDirectory(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLibrary, file)

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "must point to a directory") {
		t.Errorf("expected directory error, got %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	// unset so the file can provide them; t.Setenv restores on cleanup
	os.Unsetenv(EnvPort)
	os.Unsetenv(EnvHost)
	t.Setenv(EnvLibrary, "")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nSPOOLTAG_PORT=4100\nSPOOLTAG_HOST=0.0.0.0\nSPOOLTAG_LIBRARY=/should/not/apply\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := LoadEnvFile(envPath); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Address(); got != "0.0.0.0:4100" {
		t.Errorf("Address() = %q, want 0.0.0.0:4100", got)
	}
	if cfg.Library.Dir != "" {
		t.Errorf("Library.Dir = %q, already-set variable was overridden", cfg.Library.Dir)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env"))
	if err == nil || !strings.Contains(err.Error(), "load env file") {
		t.Fatalf("err = %v, want load env file error", err)
	}
}
