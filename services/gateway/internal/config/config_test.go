package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, "payment-events", cfg.EventTopic)
	assert.Equal(t, 0.5, cfg.Checkout.RecaptchaThreshold)
	assert.Equal(t, "Shipping", cfg.Checkout.ShippingLineItemName)
	assert.Equal(t, "wp_", cfg.DBPrefix)
	assert.NotEmpty(t, cfg.KafkaBrokers)
}

func TestYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
service_port: "9090"
clover:
  base_url: https://sandbox.weeconnectpay.com
  production: false
checkout:
  honeypot_enabled: true
  recaptcha_threshold: 0.7
  shipping_line_item_name: Flat rate
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServicePort)
	assert.Equal(t, "https://sandbox.weeconnectpay.com", cfg.Clover.BaseURL)
	assert.True(t, cfg.Checkout.HoneypotEnabled)
	assert.Equal(t, 0.7, cfg.Checkout.RecaptchaThreshold)
	assert.Equal(t, "Flat rate", cfg.Checkout.ShippingLineItemName)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`service_port: "9090"`), 0o600))
	t.Setenv("SERVICE_PORT", "7070")
	t.Setenv("HONEYPOT_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.ServicePort)
	assert.True(t, cfg.Checkout.HoneypotEnabled)
}

func TestMissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServicePort)
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service_port: [unclosed"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}
