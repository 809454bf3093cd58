package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"emovoice/internal/domain"
)

var ErrRunNotFound = errors.New("pipeline run not found")

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// Store keeps the history of pipeline runs in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// RunFilter narrows RecentRuns. Zero values match everything.
type RunFilter struct {
	Limit      int
	Emotion    string
	CrisisOnly bool
}

// EmotionCount is one row of the per-emotion run statistics.
type EmotionCount struct {
	Emotion string `json:"emotion"`
	Runs    int    `json:"runs"`
	Crisis  int    `json:"crisis"`
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			original_audio_path TEXT NOT NULL,
			processed_audio_path TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			primary_emotion TEXT NOT NULL,
			intensity DOUBLE PRECISION NOT NULL DEFAULT 0,
			intensity_level TEXT NOT NULL DEFAULT 'low',
			is_crisis BOOLEAN NOT NULL DEFAULT FALSE,
			crisis_type TEXT NOT NULL DEFAULT '',
			voice_estimate JSONB NOT NULL DEFAULT '{}'::jsonb,
			text_estimate JSONB NOT NULL DEFAULT '{}'::jsonb,
			fused JSONB NOT NULL DEFAULT '{}'::jsonb,
			safety JSONB NOT NULL DEFAULT '{}'::jsonb,
			suggestion JSONB,
			reply TEXT NOT NULL DEFAULT '',
			reply_audio_path TEXT NOT NULL DEFAULT '',
			degraded JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_emotion_started ON pipeline_runs(primary_emotion, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_crisis ON pipeline_runs(started_at DESC) WHERE is_crisis;`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Name and RecordRun let the store receive finished runs from the pipeline.
func (s *Store) Name() string { return "postgres" }

func (s *Store) RecordRun(ctx context.Context, result domain.PipelineResult) error {
	return s.SaveRun(ctx, result)
}

// SaveRun inserts a run. Saving the same run id twice keeps the first row.
func (s *Store) SaveRun(ctx context.Context, r domain.PipelineResult) error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}
	cols, err := encodeRun(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipeline_runs(
			run_id, started_at, latency_ms, original_audio_path, processed_audio_path,
			transcript, language, primary_emotion, intensity, intensity_level,
			is_crisis, crisis_type, voice_estimate, text_estimate, fused, safety,
			suggestion, reply, reply_audio_path, degraded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13::jsonb, $14::jsonb, $15::jsonb, $16::jsonb, $17::jsonb, $18, $19, $20::jsonb)
		ON CONFLICT (run_id) DO NOTHING
	`,
		r.RunID, r.StartedAt, r.LatencyMS, r.OriginalAudioPath, r.ProcessedAudioPath,
		r.Transcript, r.Language, r.Fused.PrimaryEmotion, r.Fused.Intensity, string(r.Fused.IntensityLevel),
		r.Safety.IsCrisis, string(r.Safety.CrisisType), cols.voice, cols.text, cols.fused, cols.safety,
		cols.suggestion, r.Reply, r.ReplyAudioPath, cols.degraded,
	)
	return err
}

const selectRun = `
	SELECT run_id, started_at, latency_ms, original_audio_path, processed_audio_path,
		transcript, language, voice_estimate, text_estimate, fused, safety,
		suggestion, reply, reply_audio_path, degraded
	FROM pipeline_runs
`

func (s *Store) GetRun(ctx context.Context, runID string) (domain.PipelineResult, error) {
	row := s.pool.QueryRow(ctx, selectRun+` WHERE run_id=$1`, runID)
	out, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PipelineResult{}, ErrRunNotFound
	}
	if err != nil {
		return domain.PipelineResult{}, err
	}
	return out, nil
}

// RecentRuns returns runs newest first.
func (s *Store) RecentRuns(ctx context.Context, f RunFilter) ([]domain.PipelineResult, error) {
	limit := clampLimit(f.Limit)
	emotion := domain.NormalizeLabel(f.Emotion)

	rows, err := s.pool.Query(ctx, selectRun+`
		WHERE ($1 = '' OR primary_emotion = $1)
		  AND (NOT $2 OR is_crisis)
		ORDER BY started_at DESC
		LIMIT $3
	`, emotion, f.CrisisOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PipelineResult, 0, limit)
	for rows.Next() {
		item, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmotionCounts aggregates runs started at or after since by primary emotion.
func (s *Store) EmotionCounts(ctx context.Context, since time.Time) ([]EmotionCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT primary_emotion, COUNT(*), COUNT(*) FILTER (WHERE is_crisis)
		FROM pipeline_runs
		WHERE started_at >= $1
		GROUP BY primary_emotion
		ORDER BY COUNT(*) DESC, primary_emotion ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmotionCount
	for rows.Next() {
		var c EmotionCount
		if err := rows.Scan(&c.Emotion, &c.Runs, &c.Crisis); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRunsBefore removes runs started before cutoff and reports how many
// rows were removed.
func (s *Store) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pipeline_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

type runColumns struct {
	voice      string
	text       string
	fused      string
	safety     string
	suggestion any
	degraded   string
}

func encodeRun(r domain.PipelineResult) (runColumns, error) {
	var cols runColumns
	var err error
	if cols.voice, err = jsonText(r.VoiceEstimate); err != nil {
		return runColumns{}, err
	}
	if cols.text, err = jsonText(r.TextEstimate); err != nil {
		return runColumns{}, err
	}
	if cols.fused, err = jsonText(r.Fused); err != nil {
		return runColumns{}, err
	}
	if cols.safety, err = jsonText(r.Safety); err != nil {
		return runColumns{}, err
	}
	degraded := r.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	if cols.degraded, err = jsonText(degraded); err != nil {
		return runColumns{}, err
	}
	if r.WellnessSuggestion != nil {
		raw, err := jsonText(r.WellnessSuggestion)
		if err != nil {
			return runColumns{}, err
		}
		cols.suggestion = raw
	}
	return cols, nil
}

func jsonText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// rawRun holds the JSONB columns of a row before decoding.
type rawRun struct {
	voice      []byte
	text       []byte
	fused      []byte
	safety     []byte
	suggestion []byte
	degraded   []byte
}

func scanRun(row pgx.Row) (domain.PipelineResult, error) {
	var out domain.PipelineResult
	var raw rawRun
	var startedAt time.Time
	if err := row.Scan(
		&out.RunID,
		&startedAt,
		&out.LatencyMS,
		&out.OriginalAudioPath,
		&out.ProcessedAudioPath,
		&out.Transcript,
		&out.Language,
		&raw.voice,
		&raw.text,
		&raw.fused,
		&raw.safety,
		&raw.suggestion,
		&out.Reply,
		&out.ReplyAudioPath,
		&raw.degraded,
	); err != nil {
		return domain.PipelineResult{}, err
	}
	out.StartedAt = startedAt.UTC()
	if err := decodeRun(&out, raw); err != nil {
		return domain.PipelineResult{}, fmt.Errorf("decode run %s: %w", out.RunID, err)
	}
	return out, nil
}

func decodeRun(out *domain.PipelineResult, raw rawRun) error {
	if err := json.Unmarshal(raw.voice, &out.VoiceEstimate); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.text, &out.TextEstimate); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.fused, &out.Fused); err != nil {
		return err
	}
	if err := json.Unmarshal(raw.safety, &out.Safety); err != nil {
		return err
	}
	if len(raw.degraded) > 0 {
		if err := json.Unmarshal(raw.degraded, &out.Degraded); err != nil {
			return err
		}
		if len(out.Degraded) == 0 {
			out.Degraded = nil
		}
	}
	if len(raw.suggestion) > 0 && string(raw.suggestion) != "null" {
		var sug domain.WellnessSuggestion
		if err := json.Unmarshal(raw.suggestion, &sug); err != nil {
			return err
		}
		out.WellnessSuggestion = &sug
	}
	return nil
}
