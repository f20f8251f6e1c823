package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProcessorFileMissing(t *testing.T) {
	cfg, err := LoadProcessorFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultProcessorConfig(), cfg)
}

func TestLoadProcessorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processors.yaml")
	raw := `
short_message: default
multipart_method: sar
registered_delivery: 0
data_coding_overrides:
  1: ascii
  3: latin1
multipart_ttl_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadProcessorFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sar", cfg.MultipartMethod)
	assert.Equal(t, "default", cfg.DeliveryReport) // defaulted
	assert.Equal(t, byte(0), cfg.RegisteredDelivery)
	assert.Equal(t, "ascii", cfg.DataCodingOverrides[1])
	assert.Equal(t, "latin1", cfg.DataCodingOverrides[3])
	assert.Equal(t, 2*time.Minute, cfg.MultipartTTL())
}

func TestLoadProcessorFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processors.yaml")
	require.NoError(t, os.WriteFile(path, []byte("short_message: [broken"), 0o644))

	_, err := LoadProcessorFile(path)
	assert.Error(t, err)
}

func TestSequenceKey(t *testing.T) {
	c := TransportConfig{Name: "gate1", SystemID: "esme42"}
	assert.Equal(t, "esme42@gate1", c.SequenceKey())

	c.SequencePrefix = "shared-bind"
	assert.Equal(t, "shared-bind", c.SequenceKey())
}
