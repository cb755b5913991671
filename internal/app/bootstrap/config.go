package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceID string
	HTTPPort  int
	GRPCPort  int

	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string

	KafkaBrokers []string

	EngineBaseURL string
	EngineAPIKey  string
	EngineModel   string

	CalibrationGRPCURL string

	IdempotencyTTL     time.Duration
	HealthCacheTTL     time.Duration
	MaxPrecedentCases  int
	ArbitrationTokens  int
	ArbitrationTemp    float64
	GenerationTimeout  time.Duration
	HealthProbeTimeout time.Duration
}

type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Database struct {
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Engine struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"engine"`
	Dependencies struct {
		CalibrationGRPCURL string `yaml:"calibration_grpc_url"`
	} `yaml:"dependencies"`
	Arbitration struct {
		MaxPrecedentCases int     `yaml:"max_precedent_cases"`
		MaxTokens         int     `yaml:"max_tokens"`
		Temperature       float64 `yaml:"temperature"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
	} `yaml:"arbitration"`
	Routing struct {
		HealthCacheTTLSeconds int `yaml:"health_cache_ttl_seconds"`
		ProbeTimeoutSeconds   int `yaml:"probe_timeout_seconds"`
	} `yaml:"routing"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:          "botesq-arbitration",
		HTTPPort:           8080,
		GRPCPort:           9090,
		MaxDBConns:         10,
		EngineModel:        "gpt-4o-mini",
		IdempotencyTTL:     7 * 24 * time.Hour,
		HealthCacheTTL:     2 * time.Minute,
		MaxPrecedentCases:  3,
		ArbitrationTokens:  2000,
		ArbitrationTemp:    0.2,
		GenerationTimeout:  60 * time.Second,
		HealthProbeTimeout: 5 * time.Second,
	}
	if raw, err := os.ReadFile(path); err == nil {
		var f configFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		cfg.DatabaseURL = f.Database.URL
		if f.Database.MaxConns > 0 {
			cfg.MaxDBConns = f.Database.MaxConns
		}
		cfg.RedisURL = f.Redis.URL
		cfg.KafkaBrokers = f.Kafka.Brokers
		cfg.EngineBaseURL = f.Engine.BaseURL
		if f.Engine.Model != "" {
			cfg.EngineModel = f.Engine.Model
		}
		cfg.CalibrationGRPCURL = f.Dependencies.CalibrationGRPCURL
		if f.Arbitration.MaxPrecedentCases > 0 {
			cfg.MaxPrecedentCases = f.Arbitration.MaxPrecedentCases
		}
		if f.Arbitration.MaxTokens > 0 {
			cfg.ArbitrationTokens = f.Arbitration.MaxTokens
		}
		if f.Arbitration.Temperature > 0 {
			cfg.ArbitrationTemp = f.Arbitration.Temperature
		}
		if f.Arbitration.TimeoutSeconds > 0 {
			cfg.GenerationTimeout = time.Duration(f.Arbitration.TimeoutSeconds) * time.Second
		}
		if f.Routing.HealthCacheTTLSeconds > 0 {
			cfg.HealthCacheTTL = time.Duration(f.Routing.HealthCacheTTLSeconds) * time.Second
		}
		if f.Routing.ProbeTimeoutSeconds > 0 {
			cfg.HealthProbeTimeout = time.Duration(f.Routing.ProbeTimeoutSeconds) * time.Second
		}
	}
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = splitAndTrim(raw)
	}
	cfg.EngineBaseURL = envOrDefault("ENGINE_BASE_URL", cfg.EngineBaseURL)
	cfg.EngineAPIKey = os.Getenv("ENGINE_API_KEY")
	cfg.EngineModel = envOrDefault("ENGINE_MODEL", cfg.EngineModel)
	cfg.CalibrationGRPCURL = envOrDefault("CALIBRATION_GRPC_URL", cfg.CalibrationGRPCURL)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
