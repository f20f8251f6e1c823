package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessorConfig selects and tunes the message processors. It is read from
// a YAML file so deployments can swap processor behavior without code
// changes; a missing file means defaults.
type ProcessorConfig struct {
	ShortMessage   string `yaml:"short_message"`
	DeliveryReport string `yaml:"delivery_report"`

	// Multipart concatenation method for outbound messages: udh | sar.
	MultipartMethod string `yaml:"multipart_method"`

	// Inbound decode overrides, data_coding byte -> charset name
	// (gsm7 | ascii | latin1 | ucs2).
	DataCodingOverrides map[int]string `yaml:"data_coding_overrides"`

	// When true, only the esm_class receipt bits and the
	// receipted_message_id parameter classify delivery receipts. When
	// false the receipt content regex is consulted as a fallback.
	ReceiptESMClassOnly bool `yaml:"delivery_report_use_esm_class_only"`

	// Ask the SMSC for delivery receipts on submitted messages.
	RegisteredDelivery byte `yaml:"registered_delivery"`

	// How long partial inbound multipart sets are parked before expiring.
	MultipartTTLSeconds int `yaml:"multipart_ttl_seconds"`
}

// DefaultProcessorConfig returns the configuration used when no processor
// file is present.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ShortMessage:        "default",
		DeliveryReport:      "default",
		MultipartMethod:     "udh",
		RegisteredDelivery:  1,
		MultipartTTLSeconds: 600,
	}
}

// MultipartTTL returns the reassembly parking TTL as a duration.
func (c ProcessorConfig) MultipartTTL() time.Duration {
	return time.Duration(c.MultipartTTLSeconds) * time.Second
}

// LoadProcessorFile reads a processor configuration file. A missing file is
// not an error; zero-valued fields fall back to defaults either way.
func LoadProcessorFile(path string) (ProcessorConfig, error) {
	cfg := DefaultProcessorConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read processor config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse processor config %s: %w", path, err)
	}

	if cfg.ShortMessage == "" {
		cfg.ShortMessage = "default"
	}
	if cfg.DeliveryReport == "" {
		cfg.DeliveryReport = "default"
	}
	if cfg.MultipartMethod == "" {
		cfg.MultipartMethod = "udh"
	}
	if cfg.MultipartTTLSeconds <= 0 {
		cfg.MultipartTTLSeconds = 600
	}
	return cfg, nil
}
