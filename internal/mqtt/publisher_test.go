package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emovoice/internal/domain"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu    sync.Mutex
	msgs  []published
	token func() paho.Token
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	c.mu.Unlock()
	if c.token != nil {
		return c.token()
	}
	return doneToken(nil)
}

func connected(c *fakeClient) *Publisher {
	p := NewPublisher(PublisherConfig{TopicPrefix: "home/emovoice/"}, nil)
	p.client = c
	return p
}

func crisisRun() domain.PipelineResult {
	return domain.PipelineResult{
		RunID:      "run-1",
		Transcript: "private words",
		Fused: domain.FusedEmotionResult{
			PrimaryEmotion: domain.LabelSadness,
			Intensity:      0.9,
			IntensityLevel: domain.LevelCrisis,
		},
		Safety: domain.SafetyVerdict{
			IsCrisis:        true,
			CrisisType:      domain.CrisisSelfHarm,
			PriorityMessage: "please reach out",
			Resources:       []string{"US: 988"},
		},
		Reply: "I'm here with you.",
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "emovoice/runs/abc/result", TopicRunResult("emovoice", "abc"))
	assert.Equal(t, "emovoice/alerts/crisis", TopicCrisisAlert("emovoice"))
	assert.Equal(t, "emovoice/device/+/online", TopicDeviceOnline("emovoice"))

	id, err := ParseRunID("a/b/runs/abc/result", "a/b")
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	id, err = ParseDeviceID(TopicOnline("emovoice", "kitchen"), "emovoice")
	require.NoError(t, err)
	assert.Equal(t, "kitchen", id)

	for _, topic := range []string{
		"other/runs/abc/result",
		"emovoice/runs/abc",
		"emovoice/device/abc/online",
		"emovoice/runs/+/result",
	} {
		_, err := ParseRunID(topic, "emovoice")
		assert.Error(t, err, topic)
	}
}

func TestRecordRunPublishesResultAndAlert(t *testing.T) {
	c := &fakeClient{}
	p := connected(c)

	require.NoError(t, p.RecordRun(context.Background(), crisisRun()))
	require.Len(t, c.msgs, 2)

	assert.Equal(t, "home/emovoice/runs/run-1/result", c.msgs[0].topic)
	var summary RunSummary
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &summary))
	assert.NotEmpty(t, summary.EventID)
	assert.True(t, summary.IsCrisis)
	assert.Equal(t, "I'm here with you.", summary.Reply)
	assert.NotContains(t, string(c.msgs[0].payload), "private words")

	assert.Equal(t, "home/emovoice/alerts/crisis", c.msgs[1].topic)
	assert.Equal(t, byte(1), c.msgs[1].qos)
	var alert CrisisAlert
	require.NoError(t, json.Unmarshal(c.msgs[1].payload, &alert))
	assert.Equal(t, domain.CrisisSelfHarm, alert.CrisisType)
	assert.Equal(t, []string{"US: 988"}, alert.Resources)
	assert.False(t, alert.At.IsZero())
}

func TestRecordRunWithoutCrisisSkipsAlert(t *testing.T) {
	c := &fakeClient{}
	p := connected(c)
	r := crisisRun()
	r.Safety = domain.SafetyVerdict{RecommendedAction: domain.ActionNormal}
	r.WellnessSuggestion = &domain.WellnessSuggestion{Key: "gratitude", Title: "Three Good Things"}

	require.NoError(t, p.RecordRun(context.Background(), r))
	require.Len(t, c.msgs, 1)
	var summary RunSummary
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &summary))
	assert.Equal(t, "gratitude", summary.SuggestionKey)
}

func TestPublishErrors(t *testing.T) {
	p := NewPublisher(PublisherConfig{}, nil)
	assert.ErrorIs(t, p.PublishResult(context.Background(), RunSummary{RunID: "x"}), ErrNotConnected)

	c := &fakeClient{token: func() paho.Token { return doneToken(errors.New("broker refused")) }}
	p = connected(c)
	assert.EqualError(t, p.PublishResult(context.Background(), RunSummary{RunID: "x"}), "broker refused")

	c = &fakeClient{token: func() paho.Token { return &fakeToken{done: make(chan struct{})} }}
	p = connected(c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishCrisisAlert(ctx, CrisisAlert{RunID: "x"}), context.Canceled)
}

func TestOnlineTracking(t *testing.T) {
	p := NewPublisher(PublisherConfig{TopicPrefix: "emovoice"}, nil)
	now := time.Now()
	p.markOnline("emovoice/device/speaker/online", []byte("online"), now)
	p.markOnline("emovoice/device/lamp/online", []byte("1"), now)
	p.markOnline("emovoice/bogus", []byte("1"), now)
	assert.Equal(t, []string{"lamp", "speaker"}, p.OnlineDevices())

	p.markOnline("emovoice/device/lamp/online", []byte("offline"), now)
	assert.Equal(t, []string{"speaker"}, p.OnlineDevices())
}
