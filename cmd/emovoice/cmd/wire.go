package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"emovoice/internal/audio"
	"emovoice/internal/config"
	"emovoice/internal/db"
	"emovoice/internal/emotion"
	"emovoice/internal/fusion"
	"emovoice/internal/llm"
	"emovoice/internal/metrics"
	"emovoice/internal/mqtt"
	"emovoice/internal/orchestrator"
	"emovoice/internal/response"
	"emovoice/internal/safety"
	"emovoice/internal/stream"
	"emovoice/internal/transcribe"
	"emovoice/internal/tts"
	"emovoice/internal/wellness"
)

type sinkMode int

const (
	withSinks sinkMode = iota
	withoutSinks
)

// pipeline holds the wired service and the optional outer collaborators.
type pipeline struct {
	service   *orchestrator.Service
	selector  *wellness.Selector
	store     *db.Store
	publisher *mqtt.Publisher
	redis     *stream.RedisSink
	metrics   *metrics.Metrics
	ttsDir    string
}

func (p *pipeline) Close() {
	if p.redis != nil {
		_ = p.redis.Close()
	}
	if p.store != nil {
		p.store.Close()
	}
}

func newMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg)
}

func buildSelector(cfg config.ServerConfig, logger *slog.Logger) (*wellness.Selector, error) {
	catalog := wellness.DefaultCatalog()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		loaded, err := wellness.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}
	return wellness.NewSelector(catalog, wellness.DefaultConfig(), logger)
}

func buildProviders(cfg config.ServerConfig) []llm.Configured {
	return llm.NewProviders(llm.Config{
		OpenAIBaseURL:    cfg.LLM.OpenAIBaseURL,
		OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
		OpenAIModel:      cfg.LLM.OpenAIModel,
		OllamaBaseURL:    cfg.LLM.OllamaBaseURL,
		OllamaModel:      cfg.LLM.OllamaModel,
		AnthropicBaseURL: cfg.LLM.AnthropicBaseURL,
		AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
		AnthropicModel:   cfg.LLM.AnthropicModel,
		Timeout:          cfg.LLM.Timeout,
	})
}

// voiceEstimators lists the remote model first when configured; prosody is
// always last.
func voiceEstimators(cfg config.ServerConfig) []emotion.VoiceEstimator {
	var out []emotion.VoiceEstimator
	if cfg.Emotion.VoiceModelURL != "" {
		out = append(out, emotion.NewRemoteVoiceEstimator(cfg.Emotion.VoiceModelURL, cfg.Emotion.VoiceModelKey, cfg.Emotion.VoiceTimeout))
	}
	return append(out, emotion.NewProsodyEstimator())
}

func transcribers(cfg config.ServerConfig) []transcribe.Transcriber {
	var out []transcribe.Transcriber
	if cfg.ASR.WSBridgeURL != "" {
		out = append(out, transcribe.NewWSBridge(cfg.ASR.WSBridgeURL))
	}
	if cfg.ASR.ServiceURL != "" {
		out = append(out, transcribe.NewHTTPClient(cfg.ASR.ServiceURL, cfg.ASR.Language, cfg.ASR.Timeout))
	}
	if cfg.ASR.Whisper && cfg.LLM.OpenAIAPIKey != "" {
		out = append(out, transcribe.NewOpenAIWhisper(cfg.LLM.OpenAIBaseURL, cfg.LLM.OpenAIAPIKey, cfg.ASR.WhisperModel, cfg.ASR.Language, cfg.ASR.Timeout))
	}
	return out
}

// textEstimators ends with the lexical analyzer, which never fails.
func textEstimators(cfg config.ServerConfig, providers []llm.Configured, logger *slog.Logger) []emotion.TextEstimator {
	var out []emotion.TextEstimator
	if cfg.Emotion.ServiceURL != "" {
		out = append(out, emotion.NewClient(cfg.Emotion.ServiceURL, cfg.Emotion.ServiceTimeout))
	}
	if cfg.LLM.TextEmotion && len(providers) > 0 {
		out = append(out, emotion.NewLLMTextEstimator(providers, logger))
	}
	return append(out, emotion.NewLexicalAnalyzer())
}

func buildSynthesizer(cfg config.ServerConfig, logger *slog.Logger) (tts.Synthesizer, string, error) {
	if !cfg.TTS.Enabled {
		return tts.Nop{}, "", nil
	}
	outputDir := cfg.TTS.OutputDir
	if outputDir == "" {
		outputDir = cfg.AudioDir
	}
	synth, err := tts.NewOpenAISynthesizer(tts.OpenAIConfig{
		BaseURL:   cfg.LLM.OpenAIBaseURL,
		APIKey:    cfg.LLM.OpenAIAPIKey,
		Model:     cfg.TTS.Model,
		Voice:     cfg.TTS.Voice,
		OutputDir: outputDir,
		Timeout:   cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		return nil, "", err
	}
	return synth, synth.OutputDir(), nil
}

// buildPipeline wires every stage from cfg. With withSinks it also connects
// the run store, the MQTT publisher, the Redis stream and metrics when they
// are configured.
func buildPipeline(ctx context.Context, cfg config.ServerConfig, mode sinkMode, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{}

	selector, err := buildSelector(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("load wellness catalog: %w", err)
	}
	p.selector = selector

	fusionEngine, err := fusion.NewEngine(cfg.FusionEngineConfig(), logger)
	if err != nil {
		return nil, err
	}
	screen, err := safety.NewScreen(cfg.SafetyScreenConfig(), logger)
	if err != nil {
		return nil, err
	}

	providers := buildProviders(cfg)
	if len(providers) == 0 {
		logger.Warn("no llm provider configured, replies use the static fallback table")
	}
	composer := response.NewComposer(providers, response.Config{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)

	synth, ttsDir, err := buildSynthesizer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init speech synthesis: %w", err)
	}
	p.ttsDir = ttsDir

	prepCfg := audio.DefaultPrepConfig()
	if cfg.UploadDir != "" {
		prepCfg.OutputDir = cfg.UploadDir
	}

	var sinks []orchestrator.RunSink
	if mode == withSinks {
		if cfg.DB.DSN != "" {
			store, err := db.New(ctx, cfg.DB.DSN)
			if err != nil {
				return nil, fmt.Errorf("connect db: %w", err)
			}
			if err := store.Migrate(ctx); err != nil {
				store.Close()
				return nil, fmt.Errorf("migrate db: %w", err)
			}
			p.store = store
			sinks = append(sinks, store)
		}
		if cfg.MQTT.BrokerURL != "" {
			pub := mqtt.NewPublisher(mqtt.PublisherConfig{
				BrokerURL:   cfg.MQTT.BrokerURL,
				ClientID:    cfg.MQTT.ClientID,
				Username:    cfg.MQTT.Username,
				Password:    cfg.MQTT.Password,
				TopicPrefix: cfg.MQTT.TopicPrefix,
				ResultQoS:   byte(cfg.MQTT.ResultQoS),
			}, logger)
			if err := pub.Start(ctx); err != nil {
				p.Close()
				return nil, fmt.Errorf("start mqtt publisher: %w", err)
			}
			p.publisher = pub
			sinks = append(sinks, pub)
		}
		if cfg.Redis.Addr != "" {
			rs, err := stream.NewRedisSink(ctx, stream.RedisConfig{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				Stream:   cfg.Redis.Stream,
				MaxLen:   cfg.Redis.MaxLen,
			})
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("connect redis: %w", err)
			}
			p.redis = rs
			sinks = append(sinks, rs)
		}
		if cfg.Metrics.Enabled {
			p.metrics = newMetrics()
			sinks = append(sinks, p.metrics)
		}
	}

	svc, err := orchestrator.New(orchestrator.Config{
		SinkTimeout:        cfg.SinkTimeout,
		KeepProcessedAudio: cfg.KeepProcessedAudio,
	}, orchestrator.Deps{
		Cleaner:     audio.NewPrep(prepCfg, logger),
		Voice:       emotion.NewVoiceCascade(logger, voiceEstimators(cfg)...),
		Transcriber: transcribe.NewCascade(logger, transcribers(cfg)...),
		Text:        emotion.NewTextCascade(logger, textEstimators(cfg, providers, logger)...),
		Fusion:      fusionEngine,
		Safety:      screen,
		Wellness:    selector,
		Composer:    composer,
		Synthesizer: synth,
		Sinks:       sinks,
	}, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.service = svc
	return p, nil
}
