package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"koradctl/korad"
)

// Config holds the connection and telemetry settings shared by every
// subcommand. Values come from .env / environment; per-command flags refine.
type Config struct {
	Port           string
	Baud           int
	Timeout        time.Duration
	Retries        int
	SampleInterval time.Duration

	// MQTT telemetry is optional; enabled when a broker is configured.
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
}

// LoadConfig reads .env (if present) and the environment.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: error loading .env file: %v\n", err)
	}

	return Config{
		Port:           envString("KORAD_PORT", "/dev/ttyACM0"),
		Baud:           envInt("KORAD_BAUD", korad.DefaultBaud),
		Timeout:        time.Duration(envInt("KORAD_TIMEOUT_MS", 100)) * time.Millisecond,
		Retries:        envInt("KORAD_RETRIES", 2),
		SampleInterval: time.Duration(envInt("KORAD_SAMPLE_INTERVAL_S", 1)) * time.Second,
		MQTTBroker:     os.Getenv("MQTT_BROKER"),
		MQTTUsername:   os.Getenv("MQTT_USERNAME"),
		MQTTPassword:   os.Getenv("MQTT_PASSWORD"),
	}
}

// SessionConfig maps the shared settings onto the session layer.
func (c Config) SessionConfig() korad.SessionConfig {
	return korad.SessionConfig{
		Timeout: c.Timeout,
		Retries: c.Retries,
	}
}

// Connect dials the supply and identifies it.
func (c Config) Connect() (*korad.Session, error) {
	return korad.Dial(c.Port, c.Baud, c.SessionConfig())
}

// MQTTEnabled reports whether telemetry publishing is configured.
func (c Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d\n", key, v, fallback)
		return fallback
	}
	return n
}
