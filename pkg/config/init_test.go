package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	expectedSections := []string{
		"# nfs3gw Configuration File",
		"logging:",
		"nfs:",
		"mount:",
		"portmap:",
		"exports:",
		"store:",
	}

	for _, section := range expectedSections {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfig_Force(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if err := os.WriteFile(configPath, []byte("stale"), 0644); err != nil {
		t.Fatalf("Failed to overwrite config: %v", err)
	}

	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	if string(content) == "stale" {
		t.Error("Expected forced init to replace the file")
	}
}

func TestInitConfigToPath_CreatesDirectories(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "dir", "config.yaml")

	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestGenerateYAMLWithComments(t *testing.T) {
	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("generateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{
		"# Client access rules",
		"level: INFO",
		"port: 2049",
		"shutdown_timeout: 30s",
		"mode: 493 # 0755",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Generated YAML missing %q", want)
		}
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
		t.Fatalf("Generated YAML does not parse: %v", err)
	}
	if _, ok := parsed["write_manager"]; !ok {
		t.Error("Generated YAML missing write_manager section")
	}
}

func TestInitConfig_Loadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.NFS.Port != def.NFS.Port || cfg.NFS.IdleTimeout != def.NFS.IdleTimeout {
		t.Errorf("Loaded NFS section differs from defaults: %+v", cfg.NFS)
	}
	if cfg.Store.Root.Mode != def.Store.Root.Mode {
		t.Errorf("Expected root mode %o, got %o", def.Store.Root.Mode, cfg.Store.Root.Mode)
	}
	if !cfg.Mount.Enabled || !cfg.Portmap.Register {
		t.Error("Expected mount and portmap registration enabled")
	}
	if len(cfg.Exports) != 1 || cfg.Exports[0] != def.Exports[0] {
		t.Errorf("Expected default exports, got %+v", cfg.Exports)
	}
}
