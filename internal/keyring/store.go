package keyring

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"recall254/signing-core/pkg/models"
)

// State is the full persisted keyring snapshot. Saving the whole snapshot in
// one write is what makes rotation and generation all-or-nothing.
type State struct {
	Device     *models.DeviceIdentity `json:"device,omitempty"`
	Key        *models.KeyMaterial    `json:"key,omitempty"`
	PublicKeys []models.PublicKey     `json:"public_keys,omitempty"`
}

// Store persists keyring state. Load on an empty store returns a zero State,
// not an error.
type Store interface {
	Load() (State, error)
	Save(State) error
	Clear() error
}

// MemoryStore keeps keyring state in process memory. Used by tests and by
// hosts that deliberately want keys to die with the process.
type MemoryStore struct {
	mu    sync.Mutex
	state State
	set   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return State{}, nil
	}
	return cloneState(s.state), nil
}

func (s *MemoryStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloneState(state)
	s.set = true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
	s.set = false
	return nil
}

const stateFileName = "keyring.json"

// FileStore persists keyring state as a JSON snapshot under dir. Writes go
// through a temp file and rename so a crash never leaves a half-written
// snapshot behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, stateFileName)
}

func (s *FileStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s *FileStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path())
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func cloneState(in State) State {
	out := State{}
	if in.Device != nil {
		device := *in.Device
		out.Device = &device
	}
	if in.Key != nil {
		key := *in.Key
		key.WrappedPrivateKey = append([]byte(nil), in.Key.WrappedPrivateKey...)
		key.Salt = append([]byte(nil), in.Key.Salt...)
		key.IV = append([]byte(nil), in.Key.IV...)
		out.Key = &key
	}
	if len(in.PublicKeys) > 0 {
		out.PublicKeys = make([]models.PublicKey, 0, len(in.PublicKeys))
		for _, pk := range in.PublicKeys {
			out.PublicKeys = append(out.PublicKeys, models.PublicKey{
				KeyVersion: pk.KeyVersion,
				PKIX:       append([]byte(nil), pk.PKIX...),
			})
		}
	}
	return out
}
