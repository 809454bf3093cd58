package stream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"emovoice/internal/domain"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Stream is the XADD key, "emovoice:runs" by default.
	Stream string
	// MaxLen caps the stream approximately; 0 keeps every entry.
	MaxLen int64
}

// RedisSink appends a summary of each run to a Redis stream so other
// services can follow outcomes with consumer groups.
type RedisSink struct {
	rdb *redis.Client
	cfg RedisConfig
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("%w: redis addr is required", domain.ErrInvalidConfig)
	}
	if cfg.Stream == "" {
		cfg.Stream = "emovoice:runs"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSink{rdb: rdb, cfg: cfg}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) RecordRun(ctx context.Context, r domain.PipelineResult) error {
	args := &redis.XAddArgs{
		Stream: s.cfg.Stream,
		Values: RunValues(r),
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// RunValues flattens a run into stream fields. The transcript and reply are
// left out.
func RunValues(r domain.PipelineResult) map[string]interface{} {
	values := map[string]interface{}{
		"run_id":     r.RunID,
		"emotion":    r.Fused.PrimaryEmotion,
		"confidence": strconv.FormatFloat(r.Fused.Confidence, 'f', 4, 64),
		"intensity":  strconv.FormatFloat(r.Fused.Intensity, 'f', 4, 64),
		"level":      string(r.Fused.IntensityLevel),
		"crisis":     strconv.FormatBool(r.Safety.IsCrisis),
		"action":     r.Safety.RecommendedAction,
		"latency_ms": strconv.FormatInt(r.LatencyMS, 10),
		"started_at": r.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.Safety.CrisisType != "" {
		values["crisis_type"] = string(r.Safety.CrisisType)
	}
	if r.WellnessSuggestion != nil {
		values["suggestion"] = r.WellnessSuggestion.Key
	}
	if len(r.Degraded) > 0 {
		values["degraded"] = strings.Join(r.Degraded, ",")
	}
	return values
}
