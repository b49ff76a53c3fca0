package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	currentSchemaVersion = 1

	stateFileMode   = 0o600
	stateDirMode    = 0o700
	tempFilePattern = ".state-*.toml.tmp"
)

// ErrNoRecord means nothing has been provisioned yet.
var ErrNoRecord = errors.New("no provisioning record")

// Record is the persisted outcome of setup. The worker reads AgentID from it
// when no id is passed explicitly.
type Record struct {
	AgentID          string
	AgentName        string
	GroupID          string
	SleeptimeAgentID string
	SleeptimeModel   string
	CreatedAt        time.Time

	// Incomplete marks an agent left behind by a setup that failed part
	// way. It is kept only so teardown can find it.
	Incomplete bool
}

type stateSchema struct {
	Version int           `toml:"version"`
	Agent   *recordSchema `toml:"agent,omitempty"`
}

type recordSchema struct {
	ID               string `toml:"id"`
	Name             string `toml:"name"`
	GroupID          string `toml:"group_id"`
	SleeptimeAgentID string `toml:"sleeptime_agent_id"`
	SleeptimeModel   string `toml:"sleeptime_model"`
	CreatedAt        string `toml:"created_at,omitempty"`
	Incomplete       bool   `toml:"incomplete,omitempty"`
}

// Store keeps the latest Record in a TOML file.
type Store struct {
	path string
	mu   sync.RWMutex
}

// NewStore returns a store rooted at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	return &Store{path: filepath.Clean(abs)}, nil
}

// Path is the absolute location of the state file.
func (s *Store) Path() string {
	return s.path
}

// Save replaces the stored record.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.AgentID == "" {
		return errors.New("save record: agent id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(stateSchema{
		Version: currentSchemaVersion,
		Agent: &recordSchema{
			ID:               rec.AgentID,
			Name:             rec.AgentName,
			GroupID:          rec.GroupID,
			SleeptimeAgentID: rec.SleeptimeAgentID,
			SleeptimeModel:   rec.SleeptimeModel,
			CreatedAt:        formatTime(rec.CreatedAt),
			Incomplete:       rec.Incomplete,
		},
	})
}

// Load returns the stored record or ErrNoRecord.
func (s *Store) Load(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.read()
	if err != nil {
		return Record{}, err
	}
	if state.Agent == nil || state.Agent.ID == "" {
		return Record{}, ErrNoRecord
	}
	return Record{
		AgentID:          state.Agent.ID,
		AgentName:        state.Agent.Name,
		GroupID:          state.Agent.GroupID,
		SleeptimeAgentID: state.Agent.SleeptimeAgentID,
		SleeptimeModel:   state.Agent.SleeptimeModel,
		CreatedAt:        parseTime(state.Agent.CreatedAt),
		Incomplete:       state.Agent.Incomplete,
	}, nil
}

// Clear drops the stored record but keeps the file.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.write(stateSchema{Version: currentSchemaVersion})
}

func (s *Store) read() (stateSchema, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stateSchema{Version: currentSchemaVersion}, nil
		}
		return stateSchema{}, fmt.Errorf("read state file: %w", err)
	}

	var state stateSchema
	if err := toml.Unmarshal(data, &state); err != nil {
		return stateSchema{}, fmt.Errorf("decode state file: %w", err)
	}
	if state.Version > currentSchemaVersion {
		return stateSchema{}, fmt.Errorf("unsupported state schema version %d (current %d)", state.Version, currentSchemaVersion)
	}
	if state.Version == 0 {
		state.Version = currentSchemaVersion
	}
	return state, nil
}

func (s *Store) write(state stateSchema) error {
	if err := os.MkdirAll(filepath.Dir(s.path), stateDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := toml.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(stateFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	cleanup = false
	return nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
