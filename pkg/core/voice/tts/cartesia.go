package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModel   = "sonic-3"

	defaultVoiceID        = "a0e99841-438c-4a64-b679-ae501e7d6091"
	defaultMaxBufferDelay = 500
)

// CartesiaProvider synthesizes speech over Cartesia's websocket API.
type CartesiaProvider struct {
	apiKey string
	url    string
	logger *slog.Logger
}

// CartesiaOption configures the provider.
type CartesiaOption func(*CartesiaProvider)

// WithURL overrides the websocket endpoint.
func WithURL(u string) CartesiaOption {
	return func(p *CartesiaProvider) {
		if u != "" {
			p.url = u
		}
	}
}

// WithLogger sets the logger used for context diagnostics.
func WithLogger(l *slog.Logger) CartesiaOption {
	return func(p *CartesiaProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewCartesia creates a Cartesia TTS provider.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaProvider {
	p := &CartesiaProvider{apiKey: apiKey, url: cartesiaWSURL, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed   float64 `json:"speed,omitempty"`
	Volume  float64 `json:"volume,omitempty"`
	Emotion string  `json:"emotion,omitempty"`
}

// cartesiaStreamingRequest is one text chunk within a continued context.
type cartesiaStreamingRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	ContextID        string                    `json:"context_id"`
	Continue         bool                      `json:"continue"`
	MaxBufferDelayMs int                       `json:"max_buffer_delay_ms,omitempty"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	Language         string                    `json:"language,omitempty"`
}

type cartesiaCancelRequest struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

type cartesiaWSResponse struct {
	Type       string `json:"type"` // "chunk", "flush_done", "done", "error"
	Data       string `json:"data,omitempty"`
	ContextID  string `json:"context_id,omitempty"`
	Done       bool   `json:"done,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
}

var contextCounter atomic.Uint64

func generateContextID() string {
	return fmt.Sprintf("ctx_%d_%d", time.Now().UnixNano(), contextCounter.Add(1))
}

func buildStreamingOutputFormat(sampleRate int) cartesiaOutputFormat {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return cartesiaOutputFormat{
		Container:  "raw",
		Encoding:   "pcm_s16le",
		SampleRate: sampleRate,
	}
}

func (c *CartesiaProvider) baseRequest(opts StreamingContextOptions) cartesiaStreamingRequest {
	voiceID := opts.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	model := opts.Model
	if model == "" {
		model = cartesiaModel
	}
	maxBufferDelay := opts.MaxBufferDelayMs
	if maxBufferDelay == 0 {
		maxBufferDelay = defaultMaxBufferDelay
	}

	req := cartesiaStreamingRequest{
		ModelID:          model,
		Voice:            cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat:     buildStreamingOutputFormat(opts.SampleRate),
		ContextID:        generateContextID(),
		MaxBufferDelayMs: maxBufferDelay,
		Language:         opts.Language,
	}
	if opts.Speed != 0 || opts.Volume != 0 || opts.Emotion != "" {
		req.GenerationConfig = &cartesiaGenerationConfig{
			Speed:   opts.Speed,
			Volume:  opts.Volume,
			Emotion: opts.Emotion,
		}
	}
	return req
}

// NewStreamingContext opens a websocket and a continued Cartesia context on
// it. Chunks are sent with continue=true until the final one.
func (c *CartesiaProvider) NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("cartesia tts: websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("cartesia tts: websocket connect: %w", err)
	}

	baseReq := c.baseRequest(opts)
	sc := NewStreamingContext(baseReq.OutputFormat.SampleRate)
	logger := c.logger.With("tts", "cartesia", "context_id", baseReq.ContextID)

	var writeMu sync.Mutex
	var finished atomic.Bool

	sc.SendFunc = func(text string, isFinal bool) error {
		if finished.Load() {
			return ErrContextClosed
		}
		writeMu.Lock()
		defer writeMu.Unlock()

		req := baseReq
		req.Transcript = text
		// continue must stay true until the last chunk or Cartesia closes
		// the context and rejects what follows.
		req.Continue = !isFinal
		if isFinal {
			finished.Store(true)
		}
		return conn.WriteJSON(req)
	}

	sc.CloseFunc = func() error {
		writeMu.Lock()
		if !finished.Load() {
			_ = conn.WriteJSON(cartesiaCancelRequest{ContextID: baseReq.ContextID, Cancel: true})
		}
		writeMu.Unlock()
		return conn.Close()
	}

	go func() {
		defer sc.FinishAudio()
		defer conn.Close()

		for {
			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				select {
				case <-sc.Done():
					return
				default:
				}
				if ctx.Err() != nil {
					sc.SetError(ctx.Err())
					return
				}
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					sc.SetError(err)
				}
				return
			}

			switch msg.Type {
			case "chunk":
				audio, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					sc.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !sc.PushAudio(audio) {
					return
				}
			case "done":
				return
			case "flush_done", "timestamps":
				continue
			case "error":
				logger.Warn("cartesia tts error", "error", msg.Error, "status", msg.StatusCode)
				sc.SetError(fmt.Errorf("cartesia error: %s", msg.Error))
				return
			}
		}
	}()

	// Unblock the reader if the caller's context ends first.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-sc.Done():
		}
	}()

	return sc, nil
}
