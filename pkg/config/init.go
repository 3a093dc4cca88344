package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# nfs3gw Configuration File
#
# Every key can be overridden by an environment variable named after its
# path, e.g. NFS3GW_NFS_PORT=2050 or NFS3GW_LOGGING_LEVEL=DEBUG.
# NFS3GW_EXPORTS accepts the compact form "10.0.0.0/8 rw;* ro".
`

// sectionComments documents the top-level keys of a generated file.
var sectionComments = map[string]string{
	"logging":       "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, path)",
	"server":        "Process-wide settings",
	"nfs":           "NFS program and transport. rtmax/wtmax/dtpref are advertised by FSINFO",
	"mount":         "MOUNT program, served on the NFS port",
	"portmap":       "Port mapper registration, or an embedded port mapper",
	"exports":       "Client access rules, first match wins. host is *, an IP or a CIDR; access is rw, ro or none",
	"identity":      "Maps uids and gids to the owner and group names of the store",
	"write_manager": "Write buffering: unstable writes are flushed on COMMIT, when pending data exceeds max_pending_bytes, or after stream_timeout",
	"store":         "Backing store: metadata (memory, badger) and content (memory, filesystem, s3)",
	"metrics":       "Prometheus endpoint at :port/metrics",
	"telemetry":     "OpenTelemetry tracing over OTLP gRPC",
	"profiling":     "Pyroscope continuous profiling",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above every
// section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}
	annotate(&root)

	var b strings.Builder
	b.WriteString(fileHeader)
	b.WriteString("\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return b.String(), nil
}

// annotate adds the octal form next to file modes.
func annotate(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Value == "mode" && val.Kind == yaml.ScalarNode && val.Tag == "!!int" {
				if mode, err := strconv.ParseUint(val.Value, 10, 32); err == nil {
					val.LineComment = fmt.Sprintf("%#o", mode)
				}
			}
		}
	}
	for _, child := range n.Content {
		annotate(child)
	}
}
