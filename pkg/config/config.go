// Package config resolves letta-voice settings from the environment, an
// optional config file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// STT provider names accepted by LETTA_VOICE_STT_PROVIDER.
const (
	STTProviderDeepgram = "deepgram"
	STTProviderCartesia = "cartesia"
)

// DefaultGreeting is the first thing the agent says in every session.
const DefaultGreeting = "Hi, what's your name?"

// Config keys. Each is bound to the environment variable next to it.
const (
	keyLettaAPIKey         = "letta.api_key"
	keyLettaBaseURL        = "letta.base_url"
	keyLettaAgentID        = "letta.agent_id"
	keyLettaAgentModel     = "letta.agent_model"
	keyLettaSleeptimeModel = "letta.sleeptime_model"
	keyLettaTimeout        = "letta.request_timeout"

	keyDeepgramAPIKey = "deepgram.api_key"
	keyDeepgramModel  = "deepgram.model"

	keyCartesiaAPIKey   = "cartesia.api_key"
	keyCartesiaVoiceID  = "cartesia.voice_id"
	keyCartesiaTTSModel = "cartesia.tts_model"
	keyCartesiaSTTModel = "cartesia.stt_model"

	keySTTProvider  = "voice.stt_provider"
	keyLanguage     = "voice.language"
	keyGreeting     = "voice.greeting"
	keyContinuation = "voice.turn_continuation"

	keyWorkerAddr              = "worker.addr"
	keyWorkerMaxFrameBytes     = "worker.max_frame_bytes"
	keyWorkerMaxJSONBytes      = "worker.max_json_message_bytes"
	keyWorkerMaxFramesPerSec   = "worker.max_frames_per_second"
	keyWorkerFrameBurst        = "worker.frame_burst"
	keyWorkerPingInterval      = "worker.ws_ping_interval"
	keyWorkerWriteTimeout      = "worker.ws_write_timeout"
	keyWorkerHandshakeTimeout  = "worker.handshake_timeout"
	keyWorkerReadHeaderTimeout = "worker.read_header_timeout"
	keyWorkerShutdownGrace     = "worker.shutdown_grace_period"
	keyWorkerMaxRooms          = "worker.max_rooms"

	keyStatePath = "state.path"
)

var envBindings = map[string]string{
	keyLettaAPIKey:         "LETTA_API_KEY",
	keyLettaBaseURL:        "LETTA_BASE_URL",
	keyLettaAgentID:        "LETTA_AGENT_ID",
	keyLettaAgentModel:     "LETTA_AGENT_MODEL",
	keyLettaSleeptimeModel: "LETTA_SLEEPTIME_MODEL",
	keyLettaTimeout:        "LETTA_REQUEST_TIMEOUT",

	keyDeepgramAPIKey: "DEEPGRAM_API_KEY",
	keyDeepgramModel:  "DEEPGRAM_MODEL",

	keyCartesiaAPIKey:   "CARTESIA_API_KEY",
	keyCartesiaVoiceID:  "CARTESIA_VOICE_ID",
	keyCartesiaTTSModel: "CARTESIA_TTS_MODEL",
	keyCartesiaSTTModel: "CARTESIA_STT_MODEL",

	keySTTProvider:  "LETTA_VOICE_STT_PROVIDER",
	keyLanguage:     "LETTA_VOICE_LANGUAGE",
	keyGreeting:     "LETTA_VOICE_GREETING",
	keyContinuation: "LETTA_VOICE_TURN_CONTINUATION",

	keyWorkerAddr:              "LETTA_VOICE_WORKER_ADDR",
	keyWorkerMaxFrameBytes:     "LETTA_VOICE_MAX_FRAME_BYTES",
	keyWorkerMaxJSONBytes:      "LETTA_VOICE_MAX_JSON_MESSAGE_BYTES",
	keyWorkerMaxFramesPerSec:   "LETTA_VOICE_MAX_FRAMES_PER_SECOND",
	keyWorkerFrameBurst:        "LETTA_VOICE_FRAME_BURST",
	keyWorkerPingInterval:      "LETTA_VOICE_WS_PING_INTERVAL",
	keyWorkerWriteTimeout:      "LETTA_VOICE_WS_WRITE_TIMEOUT",
	keyWorkerHandshakeTimeout:  "LETTA_VOICE_HANDSHAKE_TIMEOUT",
	keyWorkerReadHeaderTimeout: "LETTA_VOICE_READ_HEADER_TIMEOUT",
	keyWorkerShutdownGrace:     "LETTA_VOICE_SHUTDOWN_GRACE_PERIOD",
	keyWorkerMaxRooms:          "LETTA_VOICE_MAX_ROOMS",

	keyStatePath: "LETTA_VOICE_STATE_PATH",
}

// Letta holds the agent platform settings.
type Letta struct {
	APIKey         string
	BaseURL        string
	AgentID        string
	AgentModel     string
	SleeptimeModel string
	RequestTimeout time.Duration
}

// Voice holds the speech provider settings.
type Voice struct {
	STTProvider string
	Language    string
	Greeting    string

	// TurnContinuation lets a speaker keep talking into a committed turn
	// until the reply is heard. Zero disables it.
	TurnContinuation time.Duration

	DeepgramAPIKey string
	DeepgramModel  string

	CartesiaAPIKey   string
	CartesiaVoiceID  string
	CartesiaTTSModel string
	CartesiaSTTModel string
}

// Worker holds the room transport and HTTP server limits.
type Worker struct {
	Addr string

	MaxFrameBytes      int
	MaxJSONBytes       int64
	MaxFramesPerSecond int
	FrameBurst         int
	MaxRooms           int

	PingInterval      time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownGrace     time.Duration
}

// Config is the resolved configuration.
type Config struct {
	Letta     Letta
	Voice     Voice
	Worker    Worker
	StatePath string

	// ConfigFile is the file that was read, if any.
	ConfigFile string
}

// Load resolves configuration with precedence env > file > defaults. An empty
// configFile skips file loading. A nil v uses a fresh viper instance.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", configFile, err)
		}
	}

	cfg := Config{
		Letta: Letta{
			APIKey:         trimmed(v, keyLettaAPIKey),
			BaseURL:        strings.TrimRight(trimmed(v, keyLettaBaseURL), "/"),
			AgentID:        trimmed(v, keyLettaAgentID),
			AgentModel:     trimmed(v, keyLettaAgentModel),
			SleeptimeModel: trimmed(v, keyLettaSleeptimeModel),
			RequestTimeout: v.GetDuration(keyLettaTimeout),
		},
		Voice: Voice{
			STTProvider:      strings.ToLower(trimmed(v, keySTTProvider)),
			Language:         trimmed(v, keyLanguage),
			Greeting:         v.GetString(keyGreeting),
			TurnContinuation: v.GetDuration(keyContinuation),
			DeepgramAPIKey:   trimmed(v, keyDeepgramAPIKey),
			DeepgramModel:    trimmed(v, keyDeepgramModel),
			CartesiaAPIKey:   trimmed(v, keyCartesiaAPIKey),
			CartesiaVoiceID:  trimmed(v, keyCartesiaVoiceID),
			CartesiaTTSModel: trimmed(v, keyCartesiaTTSModel),
			CartesiaSTTModel: trimmed(v, keyCartesiaSTTModel),
		},
		Worker: Worker{
			Addr:               trimmed(v, keyWorkerAddr),
			MaxFrameBytes:      v.GetInt(keyWorkerMaxFrameBytes),
			MaxJSONBytes:       v.GetInt64(keyWorkerMaxJSONBytes),
			MaxFramesPerSecond: v.GetInt(keyWorkerMaxFramesPerSec),
			FrameBurst:         v.GetInt(keyWorkerFrameBurst),
			MaxRooms:           v.GetInt(keyWorkerMaxRooms),
			PingInterval:       v.GetDuration(keyWorkerPingInterval),
			WriteTimeout:       v.GetDuration(keyWorkerWriteTimeout),
			HandshakeTimeout:   v.GetDuration(keyWorkerHandshakeTimeout),
			ReadHeaderTimeout:  v.GetDuration(keyWorkerReadHeaderTimeout),
			ShutdownGrace:      v.GetDuration(keyWorkerShutdownGrace),
		},
		StatePath:  trimmed(v, keyStatePath),
		ConfigFile: v.ConfigFileUsed(),
	}

	if err := cfg.validateCommon(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyLettaBaseURL, "https://api.letta.com")
	v.SetDefault(keyLettaAgentModel, "Oklo/gemini-2.5-flash-preview-05-20")
	v.SetDefault(keyLettaSleeptimeModel, "anthropic/claude-sonnet-4-20250514")
	v.SetDefault(keyLettaTimeout, 60*time.Second)

	v.SetDefault(keyDeepgramModel, "nova-3")
	v.SetDefault(keyCartesiaTTSModel, "sonic-3")
	v.SetDefault(keyCartesiaSTTModel, "ink-whisper")
	v.SetDefault(keyCartesiaVoiceID, "a0e99841-438c-4a64-b679-ae501e7d6091")

	v.SetDefault(keySTTProvider, STTProviderDeepgram)
	v.SetDefault(keyLanguage, "en")
	v.SetDefault(keyGreeting, DefaultGreeting)
	v.SetDefault(keyContinuation, 1500*time.Millisecond)

	v.SetDefault(keyWorkerAddr, ":8081")
	v.SetDefault(keyWorkerMaxFrameBytes, 8192)
	v.SetDefault(keyWorkerMaxJSONBytes, 64*1024)
	v.SetDefault(keyWorkerMaxFramesPerSec, 120)
	v.SetDefault(keyWorkerFrameBurst, 240)
	v.SetDefault(keyWorkerMaxRooms, 64)
	v.SetDefault(keyWorkerPingInterval, 20*time.Second)
	v.SetDefault(keyWorkerWriteTimeout, 5*time.Second)
	v.SetDefault(keyWorkerHandshakeTimeout, 5*time.Second)
	v.SetDefault(keyWorkerReadHeaderTimeout, 10*time.Second)
	v.SetDefault(keyWorkerShutdownGrace, 30*time.Second)

	v.SetDefault(keyStatePath, ".letta-voice/state.toml")
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func (c Config) validateCommon() error {
	if c.Letta.BaseURL == "" {
		return errors.New("LETTA_BASE_URL must not be empty")
	}
	if c.Letta.RequestTimeout <= 0 {
		return errors.New("LETTA_REQUEST_TIMEOUT must be > 0")
	}
	switch c.Voice.STTProvider {
	case STTProviderDeepgram, STTProviderCartesia:
	default:
		return fmt.Errorf("LETTA_VOICE_STT_PROVIDER must be one of deepgram|cartesia, got %q", c.Voice.STTProvider)
	}
	if strings.TrimSpace(c.Voice.Greeting) == "" {
		return errors.New("LETTA_VOICE_GREETING must not be empty")
	}
	if c.Voice.TurnContinuation < 0 {
		return errors.New("LETTA_VOICE_TURN_CONTINUATION must be >= 0")
	}
	if c.Worker.Addr == "" {
		return errors.New("LETTA_VOICE_WORKER_ADDR must not be empty")
	}
	if c.Worker.MaxFrameBytes <= 0 {
		return errors.New("LETTA_VOICE_MAX_FRAME_BYTES must be > 0")
	}
	if c.Worker.MaxJSONBytes <= 0 {
		return errors.New("LETTA_VOICE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if c.Worker.MaxFramesPerSecond < 0 {
		return errors.New("LETTA_VOICE_MAX_FRAMES_PER_SECOND must be >= 0")
	}
	if c.Worker.MaxFramesPerSecond > 0 && c.Worker.FrameBurst < 1 {
		return errors.New("LETTA_VOICE_FRAME_BURST must be >= 1 when the frame rate limit is enabled")
	}
	if c.Worker.MaxRooms <= 0 {
		return errors.New("LETTA_VOICE_MAX_ROOMS must be > 0")
	}
	if c.Worker.PingInterval <= 0 {
		return errors.New("LETTA_VOICE_WS_PING_INTERVAL must be > 0")
	}
	if c.Worker.WriteTimeout <= 0 {
		return errors.New("LETTA_VOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.Worker.HandshakeTimeout <= 0 {
		return errors.New("LETTA_VOICE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.Worker.ReadHeaderTimeout <= 0 {
		return errors.New("LETTA_VOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.Worker.ShutdownGrace <= 0 {
		return errors.New("LETTA_VOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if c.StatePath == "" {
		return errors.New("LETTA_VOICE_STATE_PATH must not be empty")
	}
	return nil
}

// ValidateSetup checks what provisioning needs.
func (c Config) ValidateSetup() error {
	if c.Letta.APIKey == "" {
		return errors.New("LETTA_API_KEY is required")
	}
	if c.Letta.AgentModel == "" {
		return errors.New("LETTA_AGENT_MODEL must not be empty")
	}
	if c.Letta.SleeptimeModel == "" {
		return errors.New("LETTA_SLEEPTIME_MODEL must not be empty")
	}
	return nil
}

// ValidateWorker checks what the voice worker needs. The agent id is checked
// separately since it may come from the state file or a flag.
func (c Config) ValidateWorker() error {
	if c.Letta.APIKey == "" {
		return errors.New("LETTA_API_KEY is required")
	}
	switch c.Voice.STTProvider {
	case STTProviderDeepgram:
		if c.Voice.DeepgramAPIKey == "" {
			return errors.New("DEEPGRAM_API_KEY is required when LETTA_VOICE_STT_PROVIDER=deepgram")
		}
	case STTProviderCartesia:
		if c.Voice.CartesiaSTTModel == "" {
			return errors.New("CARTESIA_STT_MODEL must not be empty")
		}
	}
	if c.Voice.CartesiaAPIKey == "" {
		return errors.New("CARTESIA_API_KEY is required")
	}
	if c.Voice.CartesiaVoiceID == "" {
		return errors.New("CARTESIA_VOICE_ID must not be empty")
	}
	return nil
}
