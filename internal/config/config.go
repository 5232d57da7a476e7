package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RateLimitConfig struct {
	Points   int           `mapstructure:"points"`
	Duration time.Duration `mapstructure:"duration"`
	Block    time.Duration `mapstructure:"block"`
}

type AssemblyAIConfig struct {
	URL        string `mapstructure:"url"`
	APIURL     string `mapstructure:"api_url"`
	APIKey     string `mapstructure:"api_key"`
	SampleRate int    `mapstructure:"sample_rate"`
}

type XfyunConfig struct {
	URL    string `mapstructure:"url"`
	AppID  string `mapstructure:"app_id"`
	APIKey string `mapstructure:"api_key"`
}

type TranscriptionConfig struct {
	Scope      string           `mapstructure:"scope"`
	AssemblyAI AssemblyAIConfig `mapstructure:"assemblyai"`
	Xfyun      XfyunConfig      `mapstructure:"xfyun"`
}

type Config struct {
	Mode           string              `mapstructure:"mode"`
	Port           int                 `mapstructure:"port"`
	StaticPath     string              `mapstructure:"static_path"`
	ReadLimit      int64               `mapstructure:"read_limit"`
	PingPeriod     time.Duration       `mapstructure:"ping_period"`
	Secret         string              `mapstructure:"secret"`
	TrustedProxies []string            `mapstructure:"trusted_proxies"`
	HistoryLimit   int                 `mapstructure:"history_limit"`
	SweepInterval  time.Duration       `mapstructure:"sweep_interval"`
	Backpressure   string              `mapstructure:"backpressure"`
	Mongo          MongoConfig         `mapstructure:"mongo"`
	RateLimit      RateLimitConfig     `mapstructure:"rate_limit"`
	Transcription  TranscriptionConfig `mapstructure:"transcription"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("history_limit", 50)
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("backpressure", "kick")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "meet")
	v.SetDefault("mongo.max_pool_size", 20)
	v.SetDefault("mongo.connect_timeout", "10s")

	v.SetDefault("rate_limit.points", 5000)
	v.SetDefault("rate_limit.duration", "900s")
	v.SetDefault("rate_limit.block", "120s")

	v.SetDefault("transcription.scope", "process")
	v.SetDefault("transcription.assemblyai.url", "wss://streaming.assemblyai.com/v3/ws")
	v.SetDefault("transcription.assemblyai.api_url", "https://api.assemblyai.com/v2/transcript")
	v.SetDefault("transcription.assemblyai.api_key", "")
	v.SetDefault("transcription.assemblyai.sample_rate", 16000)
	v.SetDefault("transcription.xfyun.url", "ws://rtasr.xfyun.cn/v1/ws")
	v.SetDefault("transcription.xfyun.app_id", "")
	v.SetDefault("transcription.xfyun.api_key", "")
}

// legacy environment names kept working alongside the dotted keys
var envAliases = map[string]string{
	"port":                             "PORT",
	"mongo.uri":                        "MONGODB_URI",
	"transcription.assemblyai.api_key": "ASSEMBLYAI_API_KEY",
	"transcription.xfyun.app_id":       "XFYUN_APP_ID",
	"transcription.xfyun.api_key":      "XFYUN_API_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("module", "config").Str("file", fileName).Msg("config file not loaded, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Bool("mongo", cfg.Mongo.URI != "").
		Msg("config ready")
	return &cfg, nil
}
