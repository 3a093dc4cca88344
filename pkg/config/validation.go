package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/nfs3gw/pkg/export"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs validation that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one rule must be configured")
	}

	// Compiling the table checks every host pattern and access level.
	if _, err := export.New(cfg.Exports); err != nil {
		return fmt.Errorf("exports: %w", err)
	}

	if cfg.Portmap.Embedded && cfg.Portmap.Port == cfg.NFS.Port {
		return fmt.Errorf("portmap: port %d is also used by nfs", cfg.Portmap.Port)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.NFS.Port {
		return fmt.Errorf("metrics: port %d is also used by nfs", cfg.Metrics.Port)
	}

	if cfg.NFS.RTMax > 0 && cfg.NFS.MaxRecordSize > 0 && int(cfg.NFS.RTMax) > cfg.NFS.MaxRecordSize {
		return fmt.Errorf("nfs: rtmax %d exceeds max_record_size %d", cfg.NFS.RTMax, cfg.NFS.MaxRecordSize)
	}

	if cfg.NFS.WTMax > 0 && cfg.NFS.MaxRecordSize > 0 && int(cfg.NFS.WTMax) > cfg.NFS.MaxRecordSize {
		return fmt.Errorf("nfs: wtmax %d exceeds max_record_size %d", cfg.NFS.WTMax, cfg.NFS.MaxRecordSize)
	}

	switch cfg.Store.Metadata.Type {
	case "badger":
		if path, _ := cfg.Store.Metadata.Badger["db_path"].(string); path == "" {
			return fmt.Errorf("store.metadata.badger: db_path is required")
		}
	}

	switch cfg.Store.Content.Type {
	case "filesystem":
		if path, _ := cfg.Store.Content.Filesystem["path"].(string); path == "" {
			return fmt.Errorf("store.content.filesystem: path is required")
		}
	case "s3":
		if bucket, _ := cfg.Store.Content.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("store.content.s3: bucket is required")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
