package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"emovoice/internal/domain"
)

var ErrNotConnected = errors.New("mqtt publisher not connected")

type PublisherConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	// ResultQoS applies to run results; crisis alerts always use QoS 1.
	ResultQoS byte
}

// RunSummary is the device-facing view of a run. The transcript stays
// server side.
type RunSummary struct {
	EventID        string                `json:"event_id"`
	RunID          string                `json:"run_id"`
	StartedAt      time.Time             `json:"started_at"`
	PrimaryEmotion string                `json:"primary_emotion"`
	Confidence     float64               `json:"confidence"`
	Intensity      float64               `json:"intensity"`
	IntensityLevel domain.IntensityLevel `json:"intensity_level"`
	IsCrisis       bool                  `json:"is_crisis"`
	Reply          string                `json:"reply"`
	ReplyAudioPath string                `json:"reply_audio_path,omitempty"`
	SuggestionKey  string                `json:"suggestion_key,omitempty"`
	SuggestionName string                `json:"suggestion_title,omitempty"`
	Degraded       []string              `json:"degraded,omitempty"`
}

type CrisisAlert struct {
	EventID         string            `json:"event_id"`
	RunID           string            `json:"run_id"`
	CrisisType      domain.CrisisType `json:"crisis_type"`
	Intensity       float64           `json:"intensity"`
	PriorityMessage string            `json:"priority_message"`
	Resources       []string          `json:"resources"`
	At              time.Time         `json:"at"`
}

func SummaryFromResult(r domain.PipelineResult) RunSummary {
	s := RunSummary{
		RunID:          r.RunID,
		StartedAt:      r.StartedAt,
		PrimaryEmotion: r.Fused.PrimaryEmotion,
		Confidence:     r.Fused.Confidence,
		Intensity:      r.Fused.Intensity,
		IntensityLevel: r.Fused.IntensityLevel,
		IsCrisis:       r.Safety.IsCrisis,
		Reply:          r.Reply,
		ReplyAudioPath: r.ReplyAudioPath,
		Degraded:       append([]string(nil), r.Degraded...),
	}
	if r.WellnessSuggestion != nil {
		s.SuggestionKey = r.WellnessSuggestion.Key
		s.SuggestionName = r.WellnessSuggestion.Title
	}
	return s
}

func AlertFromResult(r domain.PipelineResult) CrisisAlert {
	return CrisisAlert{
		RunID:           r.RunID,
		CrisisType:      r.Safety.CrisisType,
		Intensity:       r.Fused.Intensity,
		PriorityMessage: r.Safety.PriorityMessage,
		Resources:       append([]string(nil), r.Safety.Resources...),
	}
}

// client is the part of paho.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher fans finished runs and crisis alerts out to listening devices
// and tracks which devices announced themselves online.
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger

	mu     sync.RWMutex
	client client
	online map[string]time.Time
}

func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "emovoice-" + uuid.NewString()[:8]
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "emovoice"
	}
	cfg.TopicPrefix = strings.TrimRight(cfg.TopicPrefix, "/")
	if cfg.ResultQoS > 2 {
		cfg.ResultQoS = 1
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger,
		online: make(map[string]time.Time),
	}
}

func (p *Publisher) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(p.cfg.BrokerURL).
		SetClientID(p.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Error("mqtt connection lost", "error", err)
	})

	c := paho.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	if token := c.Subscribe(TopicDeviceOnline(p.cfg.TopicPrefix), 1, p.handleOnline); token.Wait() && token.Error() != nil {
		c.Disconnect(100)
		return token.Error()
	}

	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
	p.logger.Info("mqtt publisher connected", "broker", p.cfg.BrokerURL, "prefix", p.cfg.TopicPrefix)

	go func() {
		<-ctx.Done()
		c.Disconnect(100)
	}()
	return nil
}

func (p *Publisher) handleOnline(_ paho.Client, msg paho.Message) {
	p.markOnline(msg.Topic(), msg.Payload(), time.Now())
}

func (p *Publisher) markOnline(topic string, payload []byte, at time.Time) {
	deviceID, err := ParseDeviceID(topic, p.cfg.TopicPrefix)
	if err != nil {
		p.logger.Warn("skip invalid online topic", "topic", topic, "error", err)
		return
	}
	v := strings.TrimSpace(strings.ToLower(string(payload)))
	online := v == "1" || v == "true" || v == "online"

	p.mu.Lock()
	if online {
		p.online[deviceID] = at
	} else {
		delete(p.online, deviceID)
	}
	p.mu.Unlock()
	p.logger.Info("device online status", "device_id", deviceID, "online", online)
}

// OnlineDevices lists devices that announced themselves online, sorted.
func (p *Publisher) OnlineDevices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Publisher) PublishResult(ctx context.Context, s RunSummary) error {
	if s.EventID == "" {
		s.EventID = uuid.NewString()
	}
	return p.publish(ctx, TopicRunResult(p.cfg.TopicPrefix, s.RunID), p.cfg.ResultQoS, s)
}

func (p *Publisher) PublishCrisisAlert(ctx context.Context, a CrisisAlert) error {
	if a.EventID == "" {
		a.EventID = uuid.NewString()
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	if err := p.publish(ctx, TopicCrisisAlert(p.cfg.TopicPrefix), 1, a); err != nil {
		return err
	}
	p.logger.Warn("crisis alert published", "run_id", a.RunID, "event_id", a.EventID, "crisis_type", a.CrisisType)
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, qos byte, v any) error {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := c.Publish(topic, qos, false, body)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}

// Name and RecordRun let the publisher receive finished runs from the
// pipeline.
func (p *Publisher) Name() string { return "mqtt" }

func (p *Publisher) RecordRun(ctx context.Context, r domain.PipelineResult) error {
	err := p.PublishResult(ctx, SummaryFromResult(r))
	if r.Safety.IsCrisis {
		err = errors.Join(err, p.PublishCrisisAlert(ctx, AlertFromResult(r)))
	}
	return err
}
