package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"KORAD_PORT", "KORAD_BAUD", "KORAD_TIMEOUT_MS", "KORAD_RETRIES",
		"KORAD_SAMPLE_INTERVAL_S", "MQTT_BROKER",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, 9600, cfg.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, time.Second, cfg.SampleInterval)
	assert.False(t, cfg.MQTTEnabled())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("KORAD_PORT", "/dev/ttyUSB3")
	t.Setenv("KORAD_BAUD", "115200")
	t.Setenv("KORAD_TIMEOUT_MS", "250")
	t.Setenv("KORAD_RETRIES", "5")
	t.Setenv("KORAD_SAMPLE_INTERVAL_S", "60")
	t.Setenv("MQTT_BROKER", "broker.lan")

	cfg := LoadConfig()
	assert.Equal(t, "/dev/ttyUSB3", cfg.Port)
	assert.Equal(t, 115200, cfg.Baud)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 5, cfg.Retries)
	assert.Equal(t, time.Minute, cfg.SampleInterval)
	assert.True(t, cfg.MQTTEnabled())

	sc := cfg.SessionConfig()
	assert.Equal(t, 250*time.Millisecond, sc.Timeout)
	assert.Equal(t, 5, sc.Retries)
}

func TestEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("KORAD_BAUD", "fast")
	cfg := LoadConfig()
	assert.Equal(t, 9600, cfg.Baud)
}
