package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type VoicesConfig struct {
	Directories []string `yaml:"directories"`
	Preload     []string `yaml:"preload"`
}

type SynthesisConfig struct {
	Voice         string  `yaml:"voice"`
	Speaker       string  `yaml:"speaker"`
	Language      string  `yaml:"language"`
	Workers       int     `yaml:"workers"`
	QueueSize     int     `yaml:"queue_size"`
	LengthScale   float64 `yaml:"length_scale"`
	NoiseScale    float64 `yaml:"noise_scale"`
	NoiseW        float64 `yaml:"noise_w"`
	SampleRate    int     `yaml:"sample_rate"`
	Deterministic bool    `yaml:"deterministic"`
}

type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	MaxEntries int    `yaml:"max_entries"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Voices      VoicesConfig    `yaml:"voices"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Cache       CacheConfig     `yaml:"cache"`
}

func Default() Config {
	return Config{
		ServiceName: "cantor",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 59125,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Voices: VoicesConfig{
			Directories: []string{"./voices"},
		},
		Synthesis: SynthesisConfig{
			Voice:       "en_US/ljspeech_low",
			Language:    "en_US",
			Workers:     2,
			QueueSize:   32,
			LengthScale: 1.0,
			NoiseScale:  0.667,
			NoiseW:      0.8,
			SampleRate:  22050,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Directory:  "./data/cache",
			MaxEntries: 2048,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "CANTOR_SERVICE_NAME")
	overrideString(&cfg.Environment, "CANTOR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "CANTOR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "CANTOR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "CANTOR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "CANTOR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "CANTOR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "CANTOR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "CANTOR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "CANTOR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "CANTOR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "CANTOR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "CANTOR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "CANTOR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "CANTOR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "CANTOR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "CANTOR_BUS_CONNECT_TIMEOUT_MS")
	overrideStringSlice(&cfg.Voices.Directories, "CANTOR_VOICES_DIRECTORIES")
	overrideStringSlice(&cfg.Voices.Preload, "CANTOR_VOICES_PRELOAD")
	overrideString(&cfg.Synthesis.Voice, "CANTOR_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Speaker, "CANTOR_SYNTHESIS_SPEAKER")
	overrideString(&cfg.Synthesis.Language, "CANTOR_SYNTHESIS_LANGUAGE")
	overrideInt(&cfg.Synthesis.Workers, "CANTOR_SYNTHESIS_WORKERS")
	overrideInt(&cfg.Synthesis.QueueSize, "CANTOR_SYNTHESIS_QUEUE_SIZE")
	overrideFloat(&cfg.Synthesis.LengthScale, "CANTOR_SYNTHESIS_LENGTH_SCALE")
	overrideFloat(&cfg.Synthesis.NoiseScale, "CANTOR_SYNTHESIS_NOISE_SCALE")
	overrideFloat(&cfg.Synthesis.NoiseW, "CANTOR_SYNTHESIS_NOISE_W")
	overrideInt(&cfg.Synthesis.SampleRate, "CANTOR_SYNTHESIS_SAMPLE_RATE")
	overrideBool(&cfg.Synthesis.Deterministic, "CANTOR_SYNTHESIS_DETERMINISTIC")
	overrideBool(&cfg.Cache.Enabled, "CANTOR_CACHE_ENABLED")
	overrideString(&cfg.Cache.Directory, "CANTOR_CACHE_DIRECTORY")
	overrideInt(&cfg.Cache.MaxEntries, "CANTOR_CACHE_MAX_ENTRIES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if len(cfg.Voices.Directories) == 0 {
		return errors.New("voices.directories must not be empty")
	}
	if cfg.Synthesis.Voice == "" {
		return errors.New("synthesis.voice must not be empty")
	}
	if cfg.Synthesis.Workers <= 0 {
		return errors.New("synthesis.workers must be >= 1")
	}
	if cfg.Synthesis.QueueSize <= 0 {
		return errors.New("synthesis.queue_size must be >= 1")
	}
	if cfg.Synthesis.LengthScale <= 0 {
		return errors.New("synthesis.length_scale must be positive")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Cache.Enabled {
		if cfg.Cache.Directory == "" {
			return errors.New("cache.directory must not be empty when cache is enabled")
		}
		if cfg.Cache.MaxEntries <= 0 {
			return errors.New("cache.max_entries must be >= 1")
		}
	}
	return nil
}
