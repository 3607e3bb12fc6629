package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if VKYC_CONFIG is set
//  3. env (prefix VKYC_, e.g. VKYC_ADDR, VKYC_REDIS.URL)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("VKYC_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Map env keys like VKYC_OCR_MAX_ATTEMPTS -> ocr_max_attempts.
	// Underscores are preserved to match the koanf tags on the struct;
	// a double underscore separates nested sections (VKYC_REDIS__URL).
	envProvider := env.Provider("VKYC_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "vkyc_")
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.OCRConfidenceThreshold <= 0 || c.OCRConfidenceThreshold > 1 {
		return errors.New("ocr_confidence_threshold must be in (0, 1]")
	}
	if c.OCRMaxAttempts < 1 {
		return errors.New("ocr_max_attempts must be at least 1")
	}
	if c.RegistryMaxRetries < 1 {
		return errors.New("registry_max_retries must be at least 1")
	}
	if c.RecordingCap <= 0 {
		return errors.New("recording_cap must be positive")
	}
	if c.BiometricQueueSize < 1 {
		return errors.New("biometric_queue_size must be at least 1")
	}
	return nil
}
