package lnaddrd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lnaddrd/lnaddrd/logger"
)

// usersFilename is the registry snapshot file inside the workdir.
const usersFilename = "users.json"

// UserPolicy is the payment policy of one registered name.
type UserPolicy struct {
	Name        string `json:"-"`
	IsEmail     bool   `json:"is_email"`
	Description string `json:"description,omitempty"`
}

// AddUserMode reports whether AddUser created a new entry or replaced
// an existing one.
type AddUserMode string

const (
	ModeAdded   AddUserMode = "added"
	ModeUpdated AddUserMode = "updated"
)

// Registry is the in-memory username -> policy map. It is read by the
// HTTP handlers on every discovery/callback request and mutated by the
// admin RPC, so all access goes through the RW lock and lookups return
// copies. With a workdir configured, every mutation is snapshotted to
// users.json.
type Registry struct {
	mu    sync.RWMutex
	users map[string]UserPolicy
	path  string

	// saveMu serializes mutation+snapshot+write sequences, so two
	// racing admin calls cannot land their snapshots on disk in
	// reverse order.
	saveMu sync.Mutex
}

// NewRegistry returns an empty registry. workdir may be empty, in
// which case the registry is purely in-memory.
func NewRegistry(workdir string) *Registry {
	r := &Registry{
		users: make(map[string]UserPolicy),
	}
	if workdir != "" {
		r.path = filepath.Join(workdir, usersFilename)
	}
	return r
}

// Load reads the users.json snapshot. A missing file is not an error.
func (r *Registry) Load() error {
	if r.path == "" {
		return nil
	}

	content, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read %s: %w", r.path, err)
	}

	users := make(map[string]UserPolicy)
	if err := json.Unmarshal(content, &users); err != nil {
		return fmt.Errorf("could not parse %s: %w", r.path, err)
	}
	for name, policy := range users {
		policy.Name = name
		users[name] = policy
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()

	return nil
}

// AddUser inserts or overwrites the policy for name. The stored record
// is swapped whole, never mutated field by field.
func (r *Registry) AddUser(name string, isEmail bool,
	description string) (AddUserMode, error) {

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	_, existed := r.users[name]
	r.users[name] = UserPolicy{
		Name:        name,
		IsEmail:     isEmail,
		Description: description,
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	mode := ModeAdded
	if existed {
		mode = ModeUpdated
	}

	return mode, r.save(snapshot)
}

// DelUser removes name. Deleting an unknown user is a tolerated no-op.
func (r *Registry) DelUser(name string) (bool, error) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	_, existed := r.users[name]
	delete(r.users, name)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if !existed {
		logger.Logger.Debug().Str("user", name).
			Msg("Deleting unknown user, nothing to do")
		return false, nil
	}

	return true, r.save(snapshot)
}

// Lookup returns a copy of the policy for name.
func (r *Registry) Lookup(name string) (UserPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.users[name]
	return policy, ok
}

func (r *Registry) snapshotLocked() map[string]UserPolicy {
	snapshot := make(map[string]UserPolicy, len(r.users))
	for name, policy := range r.users {
		snapshot[name] = policy
	}
	return snapshot
}

// save writes the snapshot through a temp file rename so readers never
// observe a half-written users.json.
func (r *Registry) save(snapshot map[string]UserPolicy) error {
	if r.path == "" {
		return nil
	}

	serialized, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0600); err != nil {
		return fmt.Errorf("could not write %s: %w", tmp, err)
	}
	return os.Rename(tmp, r.path)
}
