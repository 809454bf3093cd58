package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"emovoice/internal/audio"
	"emovoice/internal/domain"
)

const (
	bridgeDialMaxAttempts = 3
	bridgeDialRetryDelay  = 1 * time.Second
	// 100 ms of 16 kHz PCM16 per binary frame.
	bridgeChunkBytes = 3200
)

// bridgeResult is one message from the streaming ASR bridge. Done marks the
// last message after a flush.
type bridgeResult struct {
	Text     string `json:"text"`
	IsFinal  bool   `json:"is_final"`
	Language string `json:"language,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Error    string `json:"error,omitempty"`
}

// WSBridge streams the clip as 16 kHz PCM16 frames to a websocket ASR
// bridge, sends a flush event and joins the final results.
type WSBridge struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

func NewWSBridge(baseURL string) *WSBridge {
	return &WSBridge{BaseURL: strings.TrimSpace(baseURL), Dialer: websocket.DefaultDialer}
}

func (b *WSBridge) Enabled() bool {
	return b != nil && b.BaseURL != ""
}

func (b *WSBridge) Name() string { return "ws-bridge" }

func (b *WSBridge) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	if !b.Enabled() {
		return domain.Transcript{}, fmt.Errorf("%w: asr bridge url is empty", domain.ErrBackendUnavailable)
	}
	clip, err := audio.LoadWAV(audioPath)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("bridge load: %w", err)
	}
	pcm := audio.PCM16LE(audio.Resample(clip, audio.DefaultSampleRate))

	conn, err := b.dial(ctx, uuid.NewString())
	if err != nil {
		return domain.Transcript{}, err
	}
	s := &bridgeStream{conn: conn}
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for off := 0; off < len(pcm); off += bridgeChunkBytes {
		end := off + bridgeChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.PushAudio(pcm[off:end]); err != nil {
			return domain.Transcript{}, bridgeErr(ctx, fmt.Errorf("push audio: %w", err))
		}
	}
	if err := s.Flush(); err != nil {
		return domain.Transcript{}, bridgeErr(ctx, fmt.Errorf("flush: %w", err))
	}

	var parts []string
	language := ""
	for {
		var res bridgeResult
		if err := conn.ReadJSON(&res); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return domain.Transcript{}, bridgeErr(ctx, fmt.Errorf("read result: %w", err))
		}
		if res.Error != "" {
			return domain.Transcript{}, fmt.Errorf("asr bridge error: %s", res.Error)
		}
		if res.IsFinal && strings.TrimSpace(res.Text) != "" {
			parts = append(parts, strings.TrimSpace(res.Text))
		}
		if res.Language != "" {
			language = res.Language
		}
		if res.Done {
			break
		}
	}
	return domain.Transcript{Text: strings.Join(parts, " "), Language: language, Source: b.Name()}, nil
}

func (b *WSBridge) dial(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u, err := url.Parse(b.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ASR bridge URL: %w", err)
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()

	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	var conn *websocket.Conn
	for attempt := 1; attempt <= bridgeDialMaxAttempts; attempt++ {
		conn, _, err = dialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			return conn, nil
		}
		if attempt < bridgeDialMaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bridgeDialRetryDelay):
			}
		}
	}
	return nil, fmt.Errorf(
		"connect ASR bridge failed after %d attempts (%s): %w",
		bridgeDialMaxAttempts,
		bridgeDialRetryDelay,
		err,
	)
}

func bridgeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}

type bridgeStream struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func (s *bridgeStream) PushAudio(pcm16le []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm16le)
}

func (s *bridgeStream) Flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(map[string]string{"event": "flush"})
}

func (s *bridgeStream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		err = s.conn.Close()
	})
	return err
}
