package voiceagent

import (
	"fmt"
	"log/slog"

	"github.com/vango-go/letta-voice/pkg/agent"
	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/core/llm"
	lettallm "github.com/vango-go/letta-voice/pkg/core/providers/letta"
	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
	"github.com/vango-go/letta-voice/pkg/core/voice/tts"
	"github.com/vango-go/letta-voice/pkg/letta"
)

// FromConfig builds an entrypoint for agentID using the configured
// providers: Deepgram or Cartesia for STT, Cartesia for TTS and the Letta
// voice endpoint for replies.
func FromConfig(cfg config.Config, agentID string, logger *slog.Logger) *Entrypoint {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Entrypoint{
		AgentID:   agentID,
		Greeting:  cfg.Voice.Greeting,
		Factories: DefaultFactories(cfg, logger),
		Session: agent.Options{
			STTOptions: stt.StreamOptions{
				Model:    sttModel(cfg.Voice),
				Language: cfg.Voice.Language,
			},
			TTSOptions: tts.StreamingContextOptions{
				Voice:      cfg.Voice.CartesiaVoiceID,
				Model:      cfg.Voice.CartesiaTTSModel,
				Language:   cfg.Voice.Language,
				SampleRate: tts.DefaultSampleRate,
			},
			TurnContinuation: cfg.Voice.TurnContinuation,
		},
		Logger: logger,
	}
}

// DefaultFactories returns factories for the configured remote providers.
func DefaultFactories(cfg config.Config, logger *slog.Logger) Factories {
	return Factories{
		LLM: func(agentID string) (llm.Provider, error) {
			client := letta.NewClient(cfg.Letta.APIKey,
				letta.WithBaseURL(cfg.Letta.BaseURL),
				letta.WithTimeout(cfg.Letta.RequestTimeout),
			)
			p, err := lettallm.New(client, agentID)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		STT: func() (stt.Provider, error) {
			switch cfg.Voice.STTProvider {
			case config.STTProviderDeepgram, "":
				return stt.NewDeepgram(cfg.Voice.DeepgramAPIKey, stt.WithDeepgramLogger(logger)), nil
			case config.STTProviderCartesia:
				return stt.NewCartesia(cfg.Voice.CartesiaAPIKey, stt.WithCartesiaLogger(logger)), nil
			default:
				return nil, fmt.Errorf("unknown stt provider %q", cfg.Voice.STTProvider)
			}
		},
		TTS: func() (tts.Provider, error) {
			return tts.NewCartesia(cfg.Voice.CartesiaAPIKey, tts.WithLogger(logger)), nil
		},
	}
}

func sttModel(v config.Voice) string {
	if v.STTProvider == config.STTProviderCartesia {
		return v.CartesiaSTTModel
	}
	return v.DeepgramModel
}
