package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/nfs3gw/pkg/export"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write minimal config
	configContent := `
logging:
  level: "info"

store:
  content:
    type: "memory"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify defaults were applied
	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.NFS.Port != 2049 {
		t.Errorf("Expected default NFS port 2049, got %d", cfg.NFS.Port)
	}
	if !cfg.Mount.Enabled {
		t.Error("Expected MOUNT enabled by default")
	}
	if !cfg.Portmap.Register {
		t.Error("Expected portmap registration enabled by default")
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A path inside a temp dir keeps the user's own config out of the test
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Store.Content.Type != "memory" {
		t.Errorf("Expected default content type 'memory', got %q", cfg.Store.Content.Type)
	}
	if len(cfg.Exports) != 1 || cfg.Exports[0].Host != "*" {
		t.Errorf("Expected default wildcard export, got %+v", cfg.Exports)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[nfs]
port = 2050
enable_udp = true
read_timeout = "45s"

[[exports]]
host = "10.0.0.0/8"
access = "ro"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.NFS.Port != 2050 || !cfg.NFS.EnableUDP {
		t.Errorf("Expected nfs port 2050 with UDP, got port=%d udp=%v", cfg.NFS.Port, cfg.NFS.EnableUDP)
	}
	if cfg.NFS.ReadTimeout != 45*time.Second {
		t.Errorf("Expected read_timeout 45s, got %v", cfg.NFS.ReadTimeout)
	}
	want := []export.Rule{{Host: "10.0.0.0/8", Access: "ro"}}
	if len(cfg.Exports) != 1 || cfg.Exports[0] != want[0] {
		t.Errorf("Expected exports %+v, got %+v", want, cfg.Exports)
	}
}

func TestLoad_ExplicitFalseOverridesDefault(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
mount:
  enabled: false
portmap:
  register: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Mount.Enabled {
		t.Error("Expected mount.enabled false to be kept")
	}
	if cfg.Portmap.Register {
		t.Error("Expected portmap.register false to be kept")
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.Metadata.Type != "memory" {
		t.Errorf("Expected default metadata type 'memory', got %q", cfg.Store.Metadata.Type)
	}
	if cfg.Mount.Path != "/" {
		t.Errorf("Expected default mount path '/', got %q", cfg.Mount.Path)
	}
	if cfg.Portmap.Port != 111 || cfg.Portmap.Transport != "udp" {
		t.Errorf("Expected portmap 111/udp, got %d/%s", cfg.Portmap.Port, cfg.Portmap.Transport)
	}
	if cfg.NFS.Port != 2049 {
		t.Errorf("Expected default NFS port 2049, got %d", cfg.NFS.Port)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if dir := GetConfigDir(); dir != "/tmp/xdg/nfs3gw" {
		t.Errorf("Expected '/tmp/xdg/nfs3gw', got %q", dir)
	}
}

func TestConfigExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if ConfigExists() {
		t.Fatal("Expected no config in an empty directory")
	}
	if _, err := InitConfig(false); err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if !ConfigExists() {
		t.Error("Expected config to exist after InitConfig")
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("NFS3GW_LOGGING_LEVEL", "ERROR")
	t.Setenv("NFS3GW_NFS_PORT", "5049")
	t.Setenv("NFS3GW_NFS_AIX_COMPAT", "true")
	t.Setenv("NFS3GW_EXPORTS", "127.0.0.1 rw;10.0.0.0/8")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

nfs:
  port: 2049
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Environment variables override the file
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.NFS.Port != 5049 {
		t.Errorf("Expected port 5049 from env var, got %d", cfg.NFS.Port)
	}

	// Keys absent from the file are picked up too
	if !cfg.NFS.AIXCompat {
		t.Error("Expected aix_compat from env var")
	}

	want := []export.Rule{{Host: "127.0.0.1", Access: "rw"}, {Host: "10.0.0.0/8", Access: "ro"}}
	if len(cfg.Exports) != len(want) {
		t.Fatalf("Expected %d export rules, got %+v", len(want), cfg.Exports)
	}
	for i := range want {
		if cfg.Exports[i] != want[i] {
			t.Errorf("exports[%d]: expected %+v, got %+v", i, want[i], cfg.Exports[i])
		}
	}
}

func TestWatchExports(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	write := func(access string) {
		content := "exports:\n  - host: \"*\"\n    access: " + access + "\n"
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
	}
	write("rw")

	changes := make(chan []export.Rule, 8)
	watching, err := WatchExports(configPath, func(rules []export.Rule) { changes <- rules })
	if err != nil {
		t.Fatalf("WatchExports failed: %v", err)
	}
	if !watching {
		t.Fatal("Expected an existing file to be watched")
	}

	write("ro")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case rules := <-changes:
			if len(rules) == 1 && rules[0].Access == "ro" {
				return
			}
		case <-deadline:
			t.Fatal("No export change observed")
		}
	}
}

func TestWatchExports_NoFile(t *testing.T) {
	watching, err := WatchExports(filepath.Join(t.TempDir(), "missing.yaml"), func([]export.Rule) {})
	if err != nil {
		t.Fatalf("WatchExports failed: %v", err)
	}
	if watching {
		t.Error("Expected nothing to watch without a config file")
	}
}
