package config

import (
	"errors"
	"fmt"
	"mime"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Auth.Enabled {
		if _, err := bcrypt.Cost([]byte(cfg.Auth.APIKeyHash)); err != nil {
			return errors.New("auth.api_key_hash: not a bcrypt hash (generate one with `cloudstore hash-key`)")
		}
	}

	if cfg.Metrics.Enabled {
		if _, port, err := net.SplitHostPort(cfg.API.Address); err == nil && port == strconv.Itoa(cfg.Metrics.Port) {
			return fmt.Errorf("metrics.port: %d is already used by api.address", cfg.Metrics.Port)
		}
	}

	s := &cfg.Storage
	if s.UploadChunkSize > s.MaxFileSize {
		return fmt.Errorf("storage.upload_chunk_size (%s) exceeds storage.max_file_size (%s)",
			s.UploadChunkSize, s.MaxFileSize)
	}
	if s.Capacity > 0 && s.Capacity < s.MaxFileSize {
		return fmt.Errorf("storage.capacity (%s) is smaller than storage.max_file_size (%s)",
			s.Capacity, s.MaxFileSize)
	}

	for i, pattern := range s.AllowedMimeTypes {
		if err := validateMimePattern(pattern); err != nil {
			return fmt.Errorf("storage.allowed_mime_types[%d]: %w", i, err)
		}
	}

	root, err := filepath.Abs(s.Root)
	if err != nil {
		return fmt.Errorf("storage.root: %w", err)
	}
	index, err := filepath.Abs(s.IndexFile)
	if err != nil {
		return fmt.Errorf("storage.index_file: %w", err)
	}
	if index == root {
		return errors.New("storage.index_file must not be the storage root")
	}

	return nil
}

// validateMimePattern accepts "type/subtype" and "type/*".
func validateMimePattern(pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		if prefix == "" || strings.ContainsAny(prefix, "/*;") {
			return fmt.Errorf("invalid wildcard %q", pattern)
		}
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(pattern)
	if err != nil || !strings.Contains(mediaType, "/") {
		return fmt.Errorf("invalid media type %q", pattern)
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
