package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RowanDark/autodecode/internal/env"
)

const (
	// ChannelStable is the default release channel.
	ChannelStable = "stable"
	// ChannelBeta exposes prerelease builds.
	ChannelBeta = "beta"
)

const stateFile = "updater.json"

var validChannels = map[string]struct{}{
	ChannelStable: {},
	ChannelBeta:   {},
}

// State is the bookkeeping persisted between updates. New fields must stay
// optional so older state files keep loading.
type State struct {
	Channel            string    `json:"channel"`
	LastAppliedVersion string    `json:"last_applied_version,omitempty"`
	PreviousVersion    string    `json:"previous_version,omitempty"`
	BackupPath         string    `json:"backup_path,omitempty"`
	LastAppliedAt      time.Time `json:"last_applied_at,omitempty"`
	LastMode           string    `json:"last_mode,omitempty"`
}

// Store reads and writes State under a directory.
type Store struct {
	dir  string
	path string
	mu   sync.Mutex
}

// DefaultStateDir returns the directory holding updater state. The
// AUTODECODE_UPDATER_CONFIG_DIR variable overrides it.
func DefaultStateDir() (string, error) {
	if override, ok := env.Lookup(env.Prefix+"UPDATER_CONFIG_DIR", env.LegacyPrefix+"UPDATER_CONFIG_DIR"); ok {
		if trimmed := strings.TrimSpace(override); trimmed != "" {
			return trimmed, nil
		}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "autodecode"), nil
}

// NewStore constructs a Store rooted at dir, creating it if needed. An empty
// dir selects DefaultStateDir.
func NewStore(dir string) (*Store, error) {
	var err error
	if strings.TrimSpace(dir) == "" {
		dir, err = DefaultStateDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir %s: %w", dir, err)
	}
	return &Store{dir: dir, path: filepath.Join(dir, stateFile)}, nil
}

func (s *Store) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Load returns the persisted state, or a stable-channel state when no file
// exists yet. An unknown stored channel falls back to stable.
func (s *Store) Load() (State, error) {
	if s == nil {
		return State{}, errors.New("nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{Channel: ChannelStable}, nil
		}
		return State{}, fmt.Errorf("read updater state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse updater state: %w", err)
	}
	if _, ok := validChannels[st.Channel]; !ok {
		st.Channel = ChannelStable
	}
	return st, nil
}

// Save writes st through a temp file and rename.
func (s *Store) Save(st State) error {
	if s == nil {
		return errors.New("nil store")
	}
	if st.Channel == "" {
		st.Channel = ChannelStable
	}
	if _, ok := validChannels[st.Channel]; !ok {
		return fmt.Errorf("unknown channel %q", st.Channel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, "updater-*.json")
	if err != nil {
		return fmt.Errorf("create temp updater state: %w", err)
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode updater state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp updater state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist updater state: %w", err)
	}
	return nil
}

// NormalizeChannel lowercases channel and checks it is known. Empty means
// stable.
func NormalizeChannel(channel string) (string, error) {
	c := strings.TrimSpace(strings.ToLower(channel))
	if c == "" {
		return ChannelStable, nil
	}
	if _, ok := validChannels[c]; !ok {
		return "", fmt.Errorf("unknown channel %q", channel)
	}
	return c, nil
}
