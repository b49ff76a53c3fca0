package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "https://api.letta.com", cfg.Letta.BaseURL)
	assert.Equal(t, "Oklo/gemini-2.5-flash-preview-05-20", cfg.Letta.AgentModel)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Letta.SleeptimeModel)
	assert.Equal(t, 60*time.Second, cfg.Letta.RequestTimeout)
	assert.Equal(t, STTProviderDeepgram, cfg.Voice.STTProvider)
	assert.Equal(t, "nova-3", cfg.Voice.DeepgramModel)
	assert.Equal(t, "sonic-3", cfg.Voice.CartesiaTTSModel)
	assert.Equal(t, DefaultGreeting, cfg.Voice.Greeting)
	assert.Equal(t, 1500*time.Millisecond, cfg.Voice.TurnContinuation)
	assert.Equal(t, ":8081", cfg.Worker.Addr)
	assert.Equal(t, 8192, cfg.Worker.MaxFrameBytes)
	assert.Equal(t, 20*time.Second, cfg.Worker.PingInterval)
	assert.Empty(t, cfg.Letta.AgentID)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("LETTA_API_KEY", " key-1 ")
	t.Setenv("LETTA_BASE_URL", "http://localhost:8283/")
	t.Setenv("LETTA_AGENT_ID", "agent-123")
	t.Setenv("LETTA_VOICE_STT_PROVIDER", "Cartesia")
	t.Setenv("LETTA_VOICE_WS_PING_INTERVAL", "3s")
	t.Setenv("LETTA_VOICE_MAX_FRAME_BYTES", "4096")

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, "key-1", cfg.Letta.APIKey)
	assert.Equal(t, "http://localhost:8283", cfg.Letta.BaseURL)
	assert.Equal(t, "agent-123", cfg.Letta.AgentID)
	assert.Equal(t, STTProviderCartesia, cfg.Voice.STTProvider)
	assert.Equal(t, 3*time.Second, cfg.Worker.PingInterval)
	assert.Equal(t, 4096, cfg.Worker.MaxFrameBytes)
}

func TestLoad_ConfigFileBelowEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "letta-voice.toml")
	content := "" +
		"[letta]\n" +
		"agent_model = \"openai/gpt-4o-mini\"\n" +
		"agent_id = \"from-file\"\n" +
		"[worker]\n" +
		"addr = \":9000\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LETTA_AGENT_ID", "from-env")

	cfg, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o-mini", cfg.Letta.AgentModel)
	assert.Equal(t, "from-env", cfg.Letta.AgentID)
	assert.Equal(t, ":9000", cfg.Worker.Addr)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(nil, filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  string
		val  string
	}{
		{"stt provider", "LETTA_VOICE_STT_PROVIDER", "whisper"},
		{"frame bytes", "LETTA_VOICE_MAX_FRAME_BYTES", "0"},
		{"ping interval", "LETTA_VOICE_WS_PING_INTERVAL", "-1s"},
		{"burst", "LETTA_VOICE_FRAME_BURST", "0"},
		{"max rooms", "LETTA_VOICE_MAX_ROOMS", "-3"},
		{"turn continuation", "LETTA_VOICE_TURN_CONTINUATION", "-1s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.env, tc.val)
			_, err := Load(nil, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.env)
		})
	}
}

func TestValidateSetup_RequiresLettaKey(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(nil, "")
	require.NoError(t, err)

	err = cfg.ValidateSetup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LETTA_API_KEY")

	cfg.Letta.APIKey = "k"
	assert.NoError(t, cfg.ValidateSetup())
}

func TestValidateWorker(t *testing.T) {
	base := Config{
		Letta: Letta{APIKey: "letta"},
		Voice: Voice{
			STTProvider:      STTProviderDeepgram,
			DeepgramAPIKey:   "dg",
			CartesiaAPIKey:   "ct",
			CartesiaVoiceID:  "voice",
			CartesiaSTTModel: "ink-whisper",
		},
	}
	require.NoError(t, base.ValidateWorker())

	missingLetta := base
	missingLetta.Letta.APIKey = ""
	assert.ErrorContains(t, missingLetta.ValidateWorker(), "LETTA_API_KEY")

	missingDeepgram := base
	missingDeepgram.Voice.DeepgramAPIKey = ""
	assert.ErrorContains(t, missingDeepgram.ValidateWorker(), "DEEPGRAM_API_KEY")

	cartesiaSTT := missingDeepgram
	cartesiaSTT.Voice.STTProvider = STTProviderCartesia
	assert.NoError(t, cartesiaSTT.ValidateWorker())

	missingCartesia := base
	missingCartesia.Voice.CartesiaAPIKey = ""
	assert.ErrorContains(t, missingCartesia.ValidateWorker(), "CARTESIA_API_KEY")
}
