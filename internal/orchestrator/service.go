package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"emovoice/internal/audio"
	"emovoice/internal/domain"
	"emovoice/internal/emotion"
	"emovoice/internal/fusion"
	"emovoice/internal/response"
	"emovoice/internal/safety"
	"emovoice/internal/transcribe"
	"emovoice/internal/tts"
	"emovoice/internal/wellness"
)

// Stage names reported in PipelineResult.Degraded.
const (
	StageAudioPrep     = "audio_prep"
	StageVoiceEmotion  = "voice_emotion"
	StageTranscription = "transcription"
	StageTextEmotion   = "text_emotion"
	StageFusion        = "fusion"
	StageResponse      = "response"
	StageSynthesis     = "synthesis"
)

type AudioCleaner interface {
	Clean(ctx context.Context, path string) (audio.Clip, string, error)
}

type ReplyComposer interface {
	NewContext(transcript string, fused domain.FusedEmotionResult, suggestion *domain.WellnessSuggestion, suggestionText string) domain.ResponseContext
	ComposeReply(ctx context.Context, rc domain.ResponseContext) response.Reply
}

// RunSink receives every finished run. Sink failures never fail the run.
type RunSink interface {
	Name() string
	RecordRun(ctx context.Context, result domain.PipelineResult) error
}

type Config struct {
	// SinkTimeout bounds each sink call after the run is assembled.
	SinkTimeout time.Duration
	// KeepProcessedAudio leaves the cleaned clip on disk after the run.
	KeepProcessedAudio bool
}

type Service struct {
	cleaner     AudioCleaner
	voice       emotion.VoiceEstimator
	transcriber transcribe.Transcriber
	text        emotion.TextEstimator
	fusion      *fusion.Engine
	safety      *safety.Screen
	wellness    *wellness.Selector
	composer    ReplyComposer
	synthesizer tts.Synthesizer
	sinks       []RunSink
	sinkTimeout time.Duration
	keepClean   bool
	logger      *slog.Logger
}

type Deps struct {
	Cleaner     AudioCleaner
	Voice       emotion.VoiceEstimator
	Transcriber transcribe.Transcriber
	Text        emotion.TextEstimator
	Fusion      *fusion.Engine
	Safety      *safety.Screen
	Wellness    *wellness.Selector
	Composer    ReplyComposer
	Synthesizer tts.Synthesizer
	Sinks       []RunSink
}

func New(cfg Config, deps Deps, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Cleaner == nil:
		return nil, fmt.Errorf("%w: audio cleaner is required", domain.ErrInvalidConfig)
	case deps.Voice == nil:
		return nil, fmt.Errorf("%w: voice estimator is required", domain.ErrInvalidConfig)
	case deps.Transcriber == nil:
		return nil, fmt.Errorf("%w: transcriber is required", domain.ErrInvalidConfig)
	case deps.Text == nil:
		return nil, fmt.Errorf("%w: text estimator is required", domain.ErrInvalidConfig)
	case deps.Fusion == nil || deps.Safety == nil || deps.Wellness == nil:
		return nil, fmt.Errorf("%w: fusion, safety and wellness are required", domain.ErrInvalidConfig)
	case deps.Composer == nil:
		return nil, fmt.Errorf("%w: response composer is required", domain.ErrInvalidConfig)
	}
	synth := deps.Synthesizer
	if synth == nil {
		synth = tts.Nop{}
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	return &Service{
		cleaner:     deps.Cleaner,
		voice:       deps.Voice,
		transcriber: deps.Transcriber,
		text:        deps.Text,
		fusion:      deps.Fusion,
		safety:      deps.Safety,
		wellness:    deps.Wellness,
		composer:    deps.Composer,
		synthesizer: synth,
		sinks:       deps.Sinks,
		sinkTimeout: cfg.SinkTimeout,
		keepClean:   cfg.KeepProcessedAudio,
		logger:      logger,
	}, nil
}

// Process runs one recording through the pipeline. The only error returned
// is ErrInvalidInput for a recording that does not exist; every other
// failure degrades to neutral or placeholder values and is listed in
// PipelineResult.Degraded.
func (s *Service) Process(ctx context.Context, audioPath string) (domain.PipelineResult, error) {
	start := time.Now()
	audioPath = strings.TrimSpace(audioPath)
	if audioPath == "" {
		return domain.PipelineResult{}, fmt.Errorf("%w: audio path is empty", domain.ErrInvalidInput)
	}
	if info, err := os.Stat(audioPath); err != nil || info.IsDir() {
		return domain.PipelineResult{}, fmt.Errorf("%w: audio file %s not found", domain.ErrInvalidInput, audioPath)
	}

	result := domain.PipelineResult{
		RunID:             uuid.NewString(),
		OriginalAudioPath: audioPath,
		StartedAt:         start.UTC(),
	}
	logger := s.logger.With("run_id", result.RunID)
	degrade := func(stage string, err error) {
		result.Degraded = append(result.Degraded, stage)
		logger.Warn("pipeline stage degraded", "stage", stage, "error", err)
	}

	var prepDur, parallelDur, textDur, fuseDur, replyDur, synthDur time.Duration

	// 1. clean
	stageStart := time.Now()
	cleanPath := audioPath
	var prepared string
	prepErr := guard(StageAudioPrep, func() (err error) {
		_, prepared, err = s.cleaner.Clean(ctx, audioPath)
		return err
	})
	if prepErr != nil {
		degrade(StageAudioPrep, prepErr)
	} else if prepared != "" {
		cleanPath = prepared
	}
	result.ProcessedAudioPath = cleanPath
	prepDur = time.Since(stageStart)

	// 2. voice emotion and transcription read the same clip concurrently
	stageStart = time.Now()
	var (
		voiceEst      domain.EmotionEstimate
		voiceErr      error
		transcript    domain.Transcript
		transcribeErr error
	)
	// each branch degrades on its own, so neither error cancels the other
	var g errgroup.Group
	g.Go(func() error {
		voiceErr = guard(StageVoiceEmotion, func() (err error) {
			voiceEst, err = s.voice.Estimate(ctx, cleanPath)
			return err
		})
		return nil
	})
	g.Go(func() error {
		transcribeErr = guard(StageTranscription, func() (err error) {
			transcript, err = s.transcriber.Transcribe(ctx, cleanPath)
			return err
		})
		return nil
	})
	_ = g.Wait()
	parallelDur = time.Since(stageStart)

	if voiceErr != nil {
		degrade(StageVoiceEmotion, voiceErr)
		voiceEst = domain.NeutralVoiceEstimate()
	}
	if transcribeErr != nil {
		degrade(StageTranscription, transcribeErr)
		transcript = transcribe.PlaceholderTranscript()
	}
	result.VoiceEstimate = voiceEst
	result.Transcript = transcript.Text
	result.Language = transcript.Language

	// analysable text excludes the placeholder
	text := transcript.Text
	if transcribe.IsPlaceholder(text) {
		text = ""
	}

	// 3. text emotion
	stageStart = time.Now()
	var textEst domain.EmotionEstimate
	err := guard(StageTextEmotion, func() (err error) {
		textEst, err = s.text.Estimate(ctx, text)
		return err
	})
	if err != nil {
		degrade(StageTextEmotion, err)
		textEst = domain.NeutralTextEstimate()
	}
	result.TextEstimate = textEst
	textDur = time.Since(stageStart)

	// 4. fusion
	stageStart = time.Now()
	fused, err := s.fusion.Fuse(&voiceEst, &textEst)
	if err != nil {
		degrade(StageFusion, err)
		fused = s.neutralFused()
	}
	result.Fused = fused
	fuseDur = time.Since(stageStart)

	// 5. safety
	verdict := s.safety.Check(text, fused)
	result.Safety = verdict
	if verdict.IsCrisis {
		logger.Warn("safety alert", "crisis_type", verdict.CrisisType, "intensity", fused.Intensity)
	}

	// 6. suggestion
	var suggestion *domain.WellnessSuggestion
	suggestionText := ""
	if !verdict.ShouldSkipSuggestion {
		q := wellness.QueryFromFused(fused)
		pick := s.wellness.Suggestion(q)
		suggestion = &pick
		suggestionText = s.wellness.SuggestionText(pick, q)
	}
	result.WellnessSuggestion = suggestion

	// 7. reply
	stageStart = time.Now()
	rc := s.composer.NewContext(text, fused, suggestion, suggestionText)
	rc.RequiresCrisis = rc.RequiresCrisis || verdict.IsCrisis
	reply := s.composer.ComposeReply(ctx, rc)
	if reply.Fallback {
		degrade(StageResponse, errors.New("no language model produced a reply"))
	}
	replyText := reply.Text
	if verdict.IsCrisis {
		replyText += safety.ResourceText(verdict.Resources)
	}
	result.Reply = replyText
	replyDur = time.Since(stageStart)

	// 8. speech
	stageStart = time.Now()
	var audioOut string
	err = guard(StageSynthesis, func() (err error) {
		audioOut, err = s.synthesizer.Synthesize(ctx, replyText, fused.PrimaryEmotion)
		return err
	})
	if err != nil {
		degrade(StageSynthesis, err)
		audioOut = ""
	}
	result.ReplyAudioPath = audioOut
	synthDur = time.Since(stageStart)

	if cleanPath != audioPath && !s.keepClean {
		if err := os.Remove(cleanPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("remove processed audio failed", "path", cleanPath, "error", err)
		}
	}

	// 9. assemble
	total := time.Since(start)
	result.LatencyMS = total.Milliseconds()

	logger.Info("pipeline timing",
		"voice_source", voiceEst.Source,
		"transcript_source", transcript.Source,
		"text_source", textEst.Source,
		"reply_provider", reply.Provider,
		"primary_emotion", fused.PrimaryEmotion,
		"intensity_level", fused.IntensityLevel,
		"crisis", verdict.IsCrisis,
		"degraded", strings.Join(result.Degraded, ","),
		"prep_ms", prepDur.Milliseconds(),
		"voice_and_transcribe_ms", parallelDur.Milliseconds(),
		"text_ms", textDur.Milliseconds(),
		"fusion_ms", fuseDur.Milliseconds(),
		"reply_ms", replyDur.Milliseconds(),
		"tts_ms", synthDur.Milliseconds(),
		"total_ms", total.Milliseconds(),
	)

	s.record(ctx, logger, result)
	return result, nil
}

// guard runs fn and turns a panic into an error for stage.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", stage, r)
		}
	}()
	return fn()
}

// neutralFused stands in when fusion rejects its inputs.
func (s *Service) neutralFused() domain.FusedEmotionResult {
	voice := domain.NeutralVoiceEstimate()
	text := domain.NeutralTextEstimate()
	if fused, err := s.fusion.Fuse(&voice, &text); err == nil {
		return fused
	}
	return domain.FusedEmotionResult{
		PrimaryEmotion: domain.LabelNeutral,
		Distribution:   domain.BackfillCore(domain.Distribution{domain.LabelNeutral: 1}),
		IntensityLevel: domain.LevelLow,
	}
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, result domain.PipelineResult) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sinkTimeout)
		if err := sink.RecordRun(sinkCtx, result); err != nil {
			logger.Warn("record run failed", "sink", sink.Name(), "error", err)
		}
		cancel()
	}
}
