package config

import (
	"testing"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

func TestLoad_DefaultsRequireServerIdAndBrokers(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatalf("expected validation error with no server id or brokers set")
	}
}

func TestLoggingCfg_ParsedLevelDefaultsToInfo(t *testing.T) {
	var c LoggingCfg
	if got := c.ParsedLevel(); got != logging.LevelInfo {
		t.Fatalf("expected default level info, got %v", got)
	}
}

func TestLoggingCfg_ParsedKgoLogLevelDefaultsToWarn(t *testing.T) {
	var c LoggingCfg
	if got := c.ParsedKgoLogLevel(); got != logging.LevelWarn {
		t.Fatalf("expected default kafka driver level warn, got %v", got)
	}
}
