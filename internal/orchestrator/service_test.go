package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/audio"
	"emovoice/internal/domain"
	"emovoice/internal/fusion"
	"emovoice/internal/llm"
	"emovoice/internal/response"
	"emovoice/internal/safety"
	"emovoice/internal/transcribe"
	"emovoice/internal/wellness"
)

type fakeCleaner struct{ err error }

func (f fakeCleaner) Clean(_ context.Context, path string) (audio.Clip, string, error) {
	if f.err != nil {
		return audio.Clip{}, "", f.err
	}
	return audio.Clip{SampleRate: audio.DefaultSampleRate}, path + ".clean.wav", nil
}

type fakeVoice struct {
	est domain.EmotionEstimate
	err error
}

func (f fakeVoice) Name() string { return "fake-voice" }

func (f fakeVoice) Estimate(context.Context, string) (domain.EmotionEstimate, error) {
	return f.est, f.err
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Name() string { return "fake-asr" }

func (f fakeTranscriber) Transcribe(context.Context, string) (domain.Transcript, error) {
	if f.err != nil {
		return domain.Transcript{}, f.err
	}
	return domain.Transcript{Text: f.text, Language: "en", Source: "fake-asr"}, nil
}

type fakeText struct {
	est domain.EmotionEstimate
	err error

	mu   sync.Mutex
	seen []string
}

func (f *fakeText) Name() string { return "fake-text" }

func (f *fakeText) Estimate(_ context.Context, text string) (domain.EmotionEstimate, error) {
	f.mu.Lock()
	f.seen = append(f.seen, text)
	f.mu.Unlock()
	return f.est, f.err
}

type fakeProvider struct {
	reply string
	err   error

	mu   sync.Mutex
	reqs []domain.LLMRequest
}

func (p *fakeProvider) Name() string { return "fake-llm" }

func (p *fakeProvider) Complete(_ context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	return domain.LLMResponse{Content: p.reply}, p.err
}

type fakeSynth struct {
	path string
	err  error
	text string
}

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string) (string, error) {
	f.text = text
	return f.path, f.err
}

type fakeSink struct {
	name string
	err  error
	runs []domain.PipelineResult
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) RecordRun(ctx context.Context, result domain.PipelineResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.runs = append(s.runs, result)
	return s.err
}

func calmVoice() domain.EmotionEstimate {
	return domain.EmotionEstimate{
		PrimaryEmotion: domain.LabelNeutral,
		Confidence:     0.7,
		Distribution: domain.Distribution{
			domain.LabelNeutral: 0.7,
			domain.LabelJoy:     0.2,
			domain.LabelSadness: 0.1,
		},
		Intensity: 0.2,
		Source:    "fake-voice",
	}
}

func calmText() domain.EmotionEstimate {
	return domain.EmotionEstimate{
		PrimaryEmotion: domain.LabelNeutral,
		Confidence:     0.6,
		Distribution: domain.Distribution{
			domain.LabelNeutral: 0.6,
			domain.LabelJoy:     0.3,
			domain.LabelSadness: 0.1,
		},
		Intensity:  0.3,
		KeyPhrases: []string{"okay"},
		Source:     "fake-text",
	}
}

type harness struct {
	deps     Deps
	text     *fakeText
	provider *fakeProvider
	synth    *fakeSynth
	sink     *fakeSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine, err := fusion.NewEngine(fusion.DefaultConfig(), nil)
	require.NoError(t, err)
	screen, err := safety.NewScreen(safety.DefaultConfig(), nil)
	require.NoError(t, err)
	selector, err := wellness.NewSelector(wellness.DefaultCatalog(), wellness.DefaultConfig(), nil)
	require.NoError(t, err)

	h := &harness{
		text:     &fakeText{est: calmText()},
		provider: &fakeProvider{reply: "Thanks for sharing that with me."},
		synth:    &fakeSynth{path: "/tmp/tts_neutral_1_abc.mp3"},
		sink:     &fakeSink{name: "memory"},
	}
	h.deps = Deps{
		Cleaner:     fakeCleaner{},
		Voice:       fakeVoice{est: calmVoice()},
		Transcriber: fakeTranscriber{text: "Today was okay, nothing special."},
		Text:        h.text,
		Fusion:      engine,
		Safety:      screen,
		Wellness:    selector,
		Composer:    response.NewComposer([]llm.Configured{{Provider: h.provider, Model: "fake"}}, response.Config{}, nil),
		Synthesizer: h.synth,
		Sinks:       []RunSink{h.sink},
	}
	return h
}

func (h *harness) service(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{}, h.deps, nil)
	require.NoError(t, err)
	return svc
}

func recording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	return path
}

func TestProcessNormalRun(t *testing.T) {
	h := newHarness(t)
	path := recording(t)

	res, err := h.service(t).Process(context.Background(), path)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, path, res.OriginalAudioPath)
	assert.Equal(t, path+".clean.wav", res.ProcessedAudioPath)
	assert.Equal(t, "Today was okay, nothing special.", res.Transcript)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "fake-voice", res.VoiceEstimate.Source)
	assert.Equal(t, "fake-text", res.TextEstimate.Source)
	assert.Equal(t, domain.LabelNeutral, res.Fused.PrimaryEmotion)
	assert.False(t, res.Safety.IsCrisis)
	assert.Equal(t, domain.ActionNormal, res.Safety.RecommendedAction)
	require.NotNil(t, res.WellnessSuggestion)
	assert.NotEmpty(t, res.WellnessSuggestion.Key)
	assert.Equal(t, "Thanks for sharing that with me.", res.Reply)
	assert.Equal(t, "/tmp/tts_neutral_1_abc.mp3", res.ReplyAudioPath)
	assert.Empty(t, res.Degraded)
	assert.GreaterOrEqual(t, res.LatencyMS, int64(0))

	assert.Equal(t, []string{"Today was okay, nothing special."}, h.text.seen)
	assert.Equal(t, res.Reply, h.synth.text)
	require.Len(t, h.sink.runs, 1)
	assert.Equal(t, res.RunID, h.sink.runs[0].RunID)

	require.Len(t, h.provider.reqs, 1)
	assert.Contains(t, h.provider.reqs[0].Messages[0].Content, "Today was okay")
}

func TestProcessCrisisAppendsResources(t *testing.T) {
	h := newHarness(t)
	h.deps.Transcriber = fakeTranscriber{text: "I just want to kill myself."}

	res, err := h.service(t).Process(context.Background(), recording(t))
	require.NoError(t, err)

	assert.True(t, res.Safety.IsCrisis)
	assert.Equal(t, domain.CrisisSelfHarm, res.Safety.CrisisType)
	assert.True(t, res.Safety.ShouldSkipSuggestion)
	assert.Nil(t, res.WellnessSuggestion)
	assert.True(t, strings.HasPrefix(res.Reply, "Thanks for sharing that with me."))
	assert.Contains(t, res.Reply, "If you need support right now:")
	assert.Contains(t, res.Reply, "988")
	assert.Equal(t, res.Reply, h.synth.text)

	require.Len(t, h.provider.reqs, 1)
	assert.NotContains(t, h.provider.reqs[0].Messages[0].Content, "Suggested activity")
}

func TestProcessDegradesEveryStage(t *testing.T) {
	h := newHarness(t)
	h.deps.Cleaner = fakeCleaner{err: errors.New("decode failed")}
	h.deps.Voice = fakeVoice{err: domain.ErrAllBackendsFailed}
	h.deps.Transcriber = fakeTranscriber{err: domain.ErrAllBackendsFailed}
	h.text.err = errors.New("text backends down")
	h.provider.err = errors.New("llm down")
	h.synth.err = errors.New("tts down")
	path := recording(t)

	res, err := h.service(t).Process(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{
		StageAudioPrep,
		StageVoiceEmotion,
		StageTranscription,
		StageTextEmotion,
		StageResponse,
		StageSynthesis,
	}, res.Degraded)
	assert.Equal(t, path, res.ProcessedAudioPath)
	assert.Equal(t, transcribe.Placeholder, res.Transcript)
	assert.Equal(t, "default", res.VoiceEstimate.Source)
	assert.Equal(t, domain.NeutralTextEstimate().Confidence, res.TextEstimate.Confidence)
	assert.Equal(t, domain.LabelNeutral, res.Fused.PrimaryEmotion)
	assert.NotEmpty(t, res.Reply)
	assert.Empty(t, res.ReplyAudioPath)

	// the placeholder is never analysed as speech
	assert.Equal(t, []string{""}, h.text.seen)
	require.Len(t, h.sink.runs, 1)
}

func TestProcessRejectsMissingRecording(t *testing.T) {
	h := newHarness(t)
	svc := h.service(t)

	_, err := svc.Process(context.Background(), filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Process(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Process(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Empty(t, h.sink.runs)
}

func TestProcessSwallowsSinkErrors(t *testing.T) {
	h := newHarness(t)
	failing := &fakeSink{name: "broken", err: errors.New("db down")}
	h.deps.Sinks = []RunSink{failing, h.sink}

	res, err := h.service(t).Process(context.Background(), recording(t))
	require.NoError(t, err)
	assert.Empty(t, res.Degraded)
	assert.Len(t, failing.runs, 1)
	assert.Len(t, h.sink.runs, 1)
}

func TestNewRequiresDeps(t *testing.T) {
	h := newHarness(t)

	deps := h.deps
	deps.Voice = nil
	_, err := New(Config{}, deps, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	deps = h.deps
	deps.Wellness = nil
	_, err = New(Config{}, deps, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	deps = h.deps
	deps.Synthesizer = nil
	svc, err := New(Config{}, deps, nil)
	require.NoError(t, err)
	res, err := svc.Process(context.Background(), recording(t))
	require.NoError(t, err)
	assert.Empty(t, res.ReplyAudioPath)
}

func TestProcessScenarios(t *testing.T) {
	neutralCandidates := wellness.DefaultConfig().EmotionModules[domain.LabelNeutral]

	tests := []struct {
		name       string
		voice      domain.EmotionEstimate
		text       domain.EmotionEstimate
		transcript string
		check      func(t *testing.T, res domain.PipelineResult)
	}{
		{
			name: "sad and hopeless",
			voice: domain.EmotionEstimate{
				PrimaryEmotion: domain.LabelSadness,
				Confidence:     0.8,
				Distribution: domain.Distribution{
					domain.LabelSadness: 0.8,
					domain.LabelNeutral: 0.1,
					domain.LabelFear:    0.05,
					domain.LabelAnxiety: 0.05,
				},
				Intensity: 0.75,
				Source:    "fake-voice",
			},
			text: domain.EmotionEstimate{
				PrimaryEmotion: domain.LabelSadness,
				Confidence:     0.6,
				Distribution: domain.Distribution{
					domain.LabelSadness: 0.6,
					domain.LabelNeutral: 0.3,
					domain.LabelFear:    0.05,
					domain.LabelJoy:     0.05,
				},
				Intensity:  0.6,
				KeyPhrases: []string{"feel hopeless"},
				Source:     "fake-text",
			},
			transcript: "I feel hopeless about everything lately.",
			check: func(t *testing.T, res domain.PipelineResult) {
				assert.Equal(t, domain.LabelSadness, res.Fused.PrimaryEmotion)
				assert.True(t, res.Fused.RequiresCrisisResponse)
				assert.Equal(t, domain.LevelModerate, res.Fused.IntensityLevel)
				// below the high threshold, so the keyword list is what matches
				assert.True(t, res.Safety.IsCrisis)
				assert.Equal(t, domain.CrisisKeywords, res.Safety.CrisisType)
				assert.True(t, res.Safety.ShouldSkipSuggestion)
				assert.NotEmpty(t, res.Safety.PriorityMessage)
				assert.Nil(t, res.WellnessSuggestion)
				assert.Contains(t, res.Reply, "If you need support right now:")
			},
		},
		{
			name: "everyday errand",
			voice: domain.EmotionEstimate{
				PrimaryEmotion: domain.LabelNeutral,
				Confidence:     0.4,
				Distribution: domain.Distribution{
					domain.LabelNeutral:     0.4,
					domain.LabelJoy:         0.15,
					domain.LabelSadness:     0.1,
					domain.LabelAnger:       0.05,
					domain.LabelFear:        0.05,
					domain.LabelAnxiety:     0.1,
					domain.LabelFrustration: 0.05,
					domain.LabelConfusion:   0.1,
				},
				Intensity: 0.2,
				Source:    "fake-voice",
			},
			text: domain.EmotionEstimate{
				PrimaryEmotion: domain.LabelNeutral,
				Confidence:     0.7,
				Distribution: domain.Distribution{
					domain.LabelNeutral:   0.7,
					domain.LabelJoy:       0.1,
					domain.LabelSadness:   0.05,
					domain.LabelConfusion: 0.15,
				},
				Intensity: 0.1,
				Source:    "fake-text",
			},
			transcript: "I went to the store and bought milk",
			check: func(t *testing.T, res domain.PipelineResult) {
				assert.Equal(t, domain.LabelNeutral, res.Fused.PrimaryEmotion)
				assert.Contains(t, []domain.IntensityLevel{domain.LevelLow, domain.LevelMild}, res.Fused.IntensityLevel)
				assert.False(t, res.Fused.RequiresCrisisResponse)
				assert.False(t, res.Safety.IsCrisis)
				assert.False(t, res.Safety.ShouldSkipSuggestion)
				require.NotNil(t, res.WellnessSuggestion)
				assert.Contains(t, neutralCandidates, res.WellnessSuggestion.Key)
				assert.Equal(t, "general_wellness", res.WellnessSuggestion.Key)
			},
		},
		{
			name: "end my life",
			voice: domain.EmotionEstimate{
				PrimaryEmotion: domain.LabelNeutral,
				Confidence:     0.6,
				Distribution:   domain.Distribution{domain.LabelNeutral: 0.6, domain.LabelSadness: 0.4},
				Intensity:      0.1,
				Source:         "fake-voice",
			},
			text:       calmText(),
			transcript: "Some days I want to end my life.",
			check: func(t *testing.T, res domain.PipelineResult) {
				assert.Equal(t, domain.CrisisSelfHarm, res.Safety.CrisisType)
				assert.True(t, res.Safety.ShouldSkipSuggestion)
				assert.NotEmpty(t, res.Safety.PriorityMessage)
				assert.NotEmpty(t, res.Safety.Resources)
				assert.LessOrEqual(t, len(res.Safety.Resources), 3)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.deps.Voice = fakeVoice{est: tt.voice}
			h.deps.Transcriber = fakeTranscriber{text: tt.transcript}
			h.text.est = tt.text

			res, err := h.service(t).Process(context.Background(), recording(t))
			require.NoError(t, err)
			assert.Empty(t, res.Degraded)
			tt.check(t, res)
		})
	}
}

type panicVoice struct{}

func (panicVoice) Name() string { return "panic-voice" }

func (panicVoice) Estimate(context.Context, string) (domain.EmotionEstimate, error) {
	panic("model crashed")
}

type panicTranscriber struct{}

func (panicTranscriber) Name() string { return "panic-asr" }

func (panicTranscriber) Transcribe(context.Context, string) (domain.Transcript, error) {
	var segments []domain.Transcript
	return segments[3], nil
}

func TestProcessRecoversCollaboratorPanics(t *testing.T) {
	h := newHarness(t)
	h.deps.Voice = panicVoice{}
	h.deps.Transcriber = panicTranscriber{}

	res, err := h.service(t).Process(context.Background(), recording(t))
	require.NoError(t, err)
	assert.Equal(t, []string{StageVoiceEmotion, StageTranscription}, res.Degraded)
	assert.Equal(t, "default", res.VoiceEstimate.Source)
	assert.Equal(t, transcribe.Placeholder, res.Transcript)
	require.Len(t, h.sink.runs, 1)
}

func TestGuard(t *testing.T) {
	err := guard("x", func() error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x panicked: boom")

	assert.NoError(t, guard("x", func() error { return nil }))
	assert.ErrorIs(t, guard("x", func() error { return domain.ErrAllBackendsFailed }), domain.ErrAllBackendsFailed)
}

// diskCleaner writes a real processed clip next to the input.
type diskCleaner struct{ dir string }

func (c diskCleaner) Clean(_ context.Context, _ string) (audio.Clip, string, error) {
	path := filepath.Join(c.dir, "clean-1.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		return audio.Clip{}, "", err
	}
	return audio.Clip{SampleRate: audio.DefaultSampleRate}, path, nil
}

func TestProcessRemovesProcessedAudio(t *testing.T) {
	for _, keep := range []bool{false, true} {
		h := newHarness(t)
		dir := t.TempDir()
		h.deps.Cleaner = diskCleaner{dir: dir}
		svc, err := New(Config{KeepProcessedAudio: keep}, h.deps, nil)
		require.NoError(t, err)

		input := recording(t)
		res, err := svc.Process(context.Background(), input)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "clean-1.wav"), res.ProcessedAudioPath)
		assert.FileExists(t, input, "the original recording is never removed")
		if keep {
			assert.FileExists(t, res.ProcessedAudioPath)
		} else {
			assert.NoFileExists(t, res.ProcessedAudioPath)
		}
	}
}
