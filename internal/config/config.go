package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"emovoice/internal/domain"
	"emovoice/internal/fusion"
	"emovoice/internal/safety"
)

const envPrefix = "EMOVOICE"

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	ShowSpeech bool   `mapstructure:"show_speech"`
}

type DBConfig struct {
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
	// PruneSchedule is a cron spec for deleting runs older than Retention.
	PruneSchedule string `mapstructure:"prune_schedule"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MQTTConfig struct {
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ResultQoS   int    `mapstructure:"result_qos"`
}

type LLMConfig struct {
	OpenAIBaseURL    string        `mapstructure:"openai_base_url"`
	OpenAIAPIKey     string        `mapstructure:"openai_api_key"`
	OpenAIModel      string        `mapstructure:"openai_model"`
	OllamaBaseURL    string        `mapstructure:"ollama_base_url"`
	OllamaModel      string        `mapstructure:"ollama_model"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	AnthropicAPIKey  string        `mapstructure:"anthropic_api_key"`
	AnthropicModel   string        `mapstructure:"anthropic_model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Temperature      float64       `mapstructure:"temperature"`
	// TextEmotion adds the LLM estimator ahead of the lexical analyzer.
	TextEmotion bool `mapstructure:"text_emotion"`
}

type EmotionConfig struct {
	ServiceURL     string        `mapstructure:"service_url"`
	ServiceTimeout time.Duration `mapstructure:"service_timeout"`
	VoiceModelURL  string        `mapstructure:"voice_model_url"`
	VoiceModelKey  string        `mapstructure:"voice_model_api_key"`
	VoiceTimeout   time.Duration `mapstructure:"voice_model_timeout"`
}

type ASRConfig struct {
	ServiceURL   string        `mapstructure:"service_url"`
	WSBridgeURL  string        `mapstructure:"ws_bridge_url"`
	Language     string        `mapstructure:"language"`
	Whisper      bool          `mapstructure:"whisper"`
	WhisperModel string        `mapstructure:"whisper_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TTSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Model           string        `mapstructure:"model"`
	Voice           string        `mapstructure:"voice"`
	OutputDir       string        `mapstructure:"output_dir"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type FusionConfig struct {
	VoiceWeight    float64  `mapstructure:"voice_weight"`
	TextWeight     float64  `mapstructure:"text_weight"`
	Mild           float64  `mapstructure:"mild"`
	Moderate       float64  `mapstructure:"moderate"`
	High           float64  `mapstructure:"high"`
	Crisis         float64  `mapstructure:"crisis"`
	CrisisKeywords []string `mapstructure:"crisis_keywords"`
}

type SafetyConfig struct {
	MaxResources int               `mapstructure:"max_resources"`
	Resources    []safety.Resource `mapstructure:"resources"`
}

type ServerConfig struct {
	HTTPAddr           string        `mapstructure:"http_addr"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes"`
	UploadDir          string        `mapstructure:"upload_dir"`
	KeepProcessedAudio bool          `mapstructure:"keep_processed_audio"`
	ProcessTimeout     time.Duration `mapstructure:"process_timeout"`
	SinkTimeout        time.Duration `mapstructure:"sink_timeout"`
	CatalogPath        string        `mapstructure:"catalog_path"`
	AudioDir           string        `mapstructure:"audio_dir"`

	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Emotion EmotionConfig `mapstructure:"emotion"`
	ASR     ASRConfig     `mapstructure:"asr"`
	TTS     TTSConfig     `mapstructure:"tts"`
	Fusion  FusionConfig  `mapstructure:"fusion"`
	Safety  SafetyConfig  `mapstructure:"safety"`
}

// well-known variables read without the EMOVOICE_ prefix.
var unprefixed = map[string]string{
	"llm.openai_api_key":    "OPENAI_API_KEY",
	"llm.openai_base_url":   "OPENAI_BASE_URL",
	"llm.anthropic_api_key": "ANTHROPIC_API_KEY",
	"llm.ollama_base_url":   "OLLAMA_BASE_URL",
	"db.dsn":                "DB_DSN",
	"mqtt.broker_url":       "MQTT_BROKER_URL",
	"mqtt.username":         "MQTT_USERNAME",
	"mqtt.password":         "MQTT_PASSWORD",
	"redis.addr":            "REDIS_ADDR",
}

func setDefaults(v *viper.Viper) {
	fd := fusion.DefaultConfig()
	sd := safety.DefaultConfig()

	v.SetDefault("http_addr", ":9020")
	v.SetDefault("max_upload_bytes", 25<<20)
	v.SetDefault("upload_dir", "")
	v.SetDefault("keep_processed_audio", false)
	v.SetDefault("process_timeout", "2m")
	v.SetDefault("sink_timeout", "5s")
	v.SetDefault("catalog_path", "")
	v.SetDefault("audio_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.show_speech", false)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.retention", "720h")
	v.SetDefault("db.prune_schedule", "@hourly")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "emovoice:runs")
	v.SetDefault("redis.max_len", 10000)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "emovoice")
	v.SetDefault("mqtt.result_qos", 1)

	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_model", "gpt-4o-mini")
	v.SetDefault("llm.ollama_base_url", "")
	v.SetDefault("llm.ollama_model", "llama3.2")
	v.SetDefault("llm.anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.text_emotion", false)

	v.SetDefault("emotion.service_url", "")
	v.SetDefault("emotion.service_timeout", "1500ms")
	v.SetDefault("emotion.voice_model_url", "")
	v.SetDefault("emotion.voice_model_api_key", "")
	v.SetDefault("emotion.voice_model_timeout", "20s")

	v.SetDefault("asr.service_url", "")
	v.SetDefault("asr.ws_bridge_url", "")
	v.SetDefault("asr.language", "")
	v.SetDefault("asr.whisper", true)
	v.SetDefault("asr.whisper_model", "whisper-1")
	v.SetDefault("asr.timeout", "60s")

	v.SetDefault("tts.enabled", false)
	v.SetDefault("tts.model", "tts-1")
	v.SetDefault("tts.voice", "nova")
	v.SetDefault("tts.output_dir", "")
	v.SetDefault("tts.max_age", "1h")
	v.SetDefault("tts.cleanup_interval", "10m")

	v.SetDefault("fusion.voice_weight", fd.VoiceWeight)
	v.SetDefault("fusion.text_weight", fd.TextWeight)
	v.SetDefault("fusion.mild", fd.Thresholds.Mild)
	v.SetDefault("fusion.moderate", fd.Thresholds.Moderate)
	v.SetDefault("fusion.high", fd.Thresholds.High)
	v.SetDefault("fusion.crisis", fd.Thresholds.Crisis)
	v.SetDefault("fusion.crisis_keywords", fd.CrisisKeywords)

	v.SetDefault("safety.max_resources", sd.MaxResources)
	v.SetDefault("safety.resources", sd.Resources)
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServerConfig reads defaults, then the optional YAML file at path, then
// EMOVOICE_* environment variables (dots become underscores), and validates
// the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	v := newViper(envPrefix)
	setDefaults(v)
	for key, env := range unprefixed {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return ServerConfig{}, err
		}
	}

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return ServerConfig{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c *ServerConfig) normalize() {
	c.LLM.OpenAIBaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.OpenAIBaseURL), "/")
	c.LLM.OllamaBaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.OllamaBaseURL), "/")
	c.Emotion.ServiceURL = strings.TrimRight(strings.TrimSpace(c.Emotion.ServiceURL), "/")
	c.ASR.ServiceURL = strings.TrimRight(strings.TrimSpace(c.ASR.ServiceURL), "/")
	keywords := c.Fusion.CrisisKeywords[:0]
	for _, k := range c.Fusion.CrisisKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	c.Fusion.CrisisKeywords = keywords
}

func (c ServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.MQTT.ResultQoS < 0 || c.MQTT.ResultQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.result_qos must be 0, 1 or 2, got %d", c.MQTT.ResultQoS))
	}
	if c.TTS.Enabled && strings.TrimSpace(c.LLM.OpenAIAPIKey) == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required when tts.enabled=true"))
	}
	if c.LLM.TextEmotion && c.LLM.OpenAIAPIKey == "" && c.LLM.AnthropicAPIKey == "" && c.LLM.OllamaBaseURL == "" {
		errs = append(errs, errors.New("an LLM provider is required when llm.text_emotion=true"))
	}
	if _, err := fusion.NewEngine(c.FusionEngineConfig(), nil); err != nil {
		errs = append(errs, err)
	}
	if c.DB.DSN != "" && c.DB.Retention > 0 && strings.TrimSpace(c.DB.PruneSchedule) == "" {
		errs = append(errs, errors.New("db.prune_schedule is required when db.retention is set"))
	}
	if c.Redis.MaxLen < 0 {
		errs = append(errs, errors.New("redis.max_len must not be negative"))
	}
	if c.Safety.MaxResources < 0 {
		errs = append(errs, errors.New("safety.max_resources must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c ServerConfig) FusionEngineConfig() fusion.Config {
	cfg := fusion.DefaultConfig()
	cfg.VoiceWeight = c.Fusion.VoiceWeight
	cfg.TextWeight = c.Fusion.TextWeight
	cfg.Thresholds = fusion.Thresholds{
		Mild:     c.Fusion.Mild,
		Moderate: c.Fusion.Moderate,
		High:     c.Fusion.High,
		Crisis:   c.Fusion.Crisis,
	}
	if len(c.Fusion.CrisisKeywords) > 0 {
		cfg.CrisisKeywords = append([]string(nil), c.Fusion.CrisisKeywords...)
	}
	return cfg
}

func (c ServerConfig) SafetyScreenConfig() safety.Config {
	cfg := safety.DefaultConfig()
	cfg.HighThreshold = c.Fusion.High
	cfg.CrisisKeywords = c.FusionEngineConfig().CrisisKeywords
	if len(c.Safety.Resources) > 0 {
		cfg.Resources = append([]safety.Resource(nil), c.Safety.Resources...)
	}
	if c.Safety.MaxResources > 0 {
		cfg.MaxResources = c.Safety.MaxResources
	}
	return cfg
}

type EmotionServerConfig struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
}

// LoadEmotionServerConfig reads EMOTION_* variables for cmd/emotion-server.
func LoadEmotionServerConfig() (EmotionServerConfig, error) {
	v := newViper("EMOTION")
	v.SetDefault("http_addr", ":9012")
	v.SetDefault("max_body_bytes", 65536)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	var cfg EmotionServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return EmotionServerConfig{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return EmotionServerConfig{}, fmt.Errorf("%w: EMOTION_MAX_BODY_BYTES must be positive", domain.ErrInvalidConfig)
	}
	return cfg, nil
}
