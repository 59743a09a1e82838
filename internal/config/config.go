// Package config assembles the process-wide AppCfg from the layered sources
// described in §6: compiled-in defaults, an optional YAML file, then
// environment variable overrides. Assembly happens once at startup; AppCfg
// is passed explicitly into every constructor downstream rather than read
// from a package-level singleton.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/go-viper/mapstructure/v2"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/ids"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

type ServerCfg struct {
	ServerId ids.ServerId `koanf:"server-id"`
	Port     int          `koanf:"port"`
}

type SessionHandlerCfg struct {
	SessionStateTopicName         ids.TopicName `koanf:"session-state-topic-name"`
	SessionStateReplicationFactor int16         `koanf:"session-state-replication-factor"`
	SessionStateRetention         time.Duration `koanf:"session-state-retention"`
	SessionStatePartitions        int32         `koanf:"session-state-partitions"`
	RPCTimeout                    time.Duration `koanf:"rpc-timeout"`
}

type CommitHandlerCfg struct {
	MaxStackSize       int           `koanf:"max-stack-size"`
	AutoCommitEnabled  bool          `koanf:"auto-commit-enabled"`
	AutoCommitInterval time.Duration `koanf:"auto-commit-interval"`
	AutoCommitMaxAge   time.Duration `koanf:"auto-commit-max-age"`
}

type ConsumerCfg struct {
	DefaultRateLimit int `koanf:"default-rate-limit"`
	DefaultBatchSize int `koanf:"default-batch-size"`
}

type BasicAuthCfg struct {
	Enabled  bool   `koanf:"enabled"`
	Realm    string `koanf:"realm"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type OpenIdConnectCfg struct {
	Enabled  bool   `koanf:"enabled"`
	Realm    string `koanf:"realm"`
	JwksUrl  string `koanf:"jwks-url"`
	Issuer   string `koanf:"issuer"`
	Audience string `koanf:"audience"`
}

type MetricsCfg struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen-addr"`
}

type LoggingCfg struct {
	Level           string `koanf:"level"`
	KafkaDriverLevel string `koanf:"kafka-driver-level"`
}

// AppCfg is the fully assembled, read-only configuration for one proxy
// process. It is threaded explicitly into every constructor that needs it.
type AppCfg struct {
	Server              ServerCfg        `koanf:"server"`
	KafkaBootstrapUrls  []string         `koanf:"kafka-bootstrap-urls"`
	SchemaRegistryUrl   string           `koanf:"schema-registry-url"`
	AutoRegisterSchemas bool             `koanf:"auto-register-schemas"`
	SessionHandler      SessionHandlerCfg `koanf:"session-handler"`
	CommitHandler       CommitHandlerCfg  `koanf:"commit-handler"`
	Consumer            ConsumerCfg       `koanf:"consumer"`
	BasicAuth           BasicAuthCfg      `koanf:"basic-auth"`
	OpenIdConnect       OpenIdConnectCfg  `koanf:"openid-connect"`
	Metrics             MetricsCfg        `koanf:"metrics"`
	Logging             LoggingCfg        `koanf:"logging"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.port":                                    8080,
		"session-handler.session-state-topic-name":       "_wsproxy.session.state",
		"session-handler.session-state-replication-factor": 3,
		"session-handler.session-state-retention":        "720h",
		"session-handler.session-state-partitions":       6,
		"session-handler.rpc-timeout":                    "3s",
		"commit-handler.max-stack-size":                  10000,
		"commit-handler.auto-commit-enabled":              true,
		"commit-handler.auto-commit-interval":             "5s",
		"commit-handler.auto-commit-max-age":              "30s",
		"consumer.default-rate-limit":                     0,
		"consumer.default-batch-size":                      50,
		"metrics.enabled":                                  true,
		"metrics.listen-addr":                              ":9090",
		"logging.level":                                     "info",
		"logging.kafka-driver-level":                        "warn",
	}
}

// Load assembles AppCfg from compiled-in defaults, then path (if non-empty),
// then environment variables prefixed WSPROXY_ (double underscore as the
// nesting delimiter, e.g. WSPROXY_SESSION_HANDLER__RPC_TIMEOUT).
func Load(path string) (AppCfg, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return AppCfg{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return AppCfg{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("WSPROXY_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WSPROXY_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		s = strings.ReplaceAll(s, "_", "-")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return AppCfg{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg AppCfg
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return AppCfg{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return AppCfg{}, err
	}
	return cfg, nil
}

func (c AppCfg) validate() error {
	if c.Server.ServerId == "" {
		return fmt.Errorf("config: server.server-id is required")
	}
	if len(c.KafkaBootstrapUrls) == 0 {
		return fmt.Errorf("config: kafka-bootstrap-urls is required")
	}
	if c.BasicAuth.Enabled && c.OpenIdConnect.Enabled {
		return fmt.Errorf("config: basic-auth and openid-connect cannot both be enabled")
	}
	return nil
}

// ParsedKgoLogLevel maps the configured driver log level string onto the
// logging package's Level enum, defaulting to Warn on an unrecognized value.
func (l LoggingCfg) ParsedKgoLogLevel() logging.Level {
	switch strings.ToLower(l.KafkaDriverLevel) {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "error":
		return logging.LevelError
	case "none":
		return logging.LevelNone
	default:
		return logging.LevelWarn
	}
}

// ParsedLevel maps the configured proxy log level.
func (l LoggingCfg) ParsedLevel() logging.Level {
	switch strings.ToLower(l.Level) {
	case "trace":
		return logging.LevelTrace
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	case "none":
		return logging.LevelNone
	default:
		return logging.LevelInfo
	}
}
