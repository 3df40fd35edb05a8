package lnaddrd

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry("")

	mode, err := r.AddUser("alice", false, "Pay alice")
	require.NoError(t, err)
	require.Equal(t, ModeAdded, mode)

	policy, ok := r.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, UserPolicy{
		Name:        "alice",
		Description: "Pay alice",
	}, policy)

	// Re-registering replaces the whole record.
	mode, err = r.AddUser("alice", true, "")
	require.NoError(t, err)
	require.Equal(t, ModeUpdated, mode)

	policy, ok = r.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, UserPolicy{Name: "alice", IsEmail: true}, policy)

	_, ok = r.Lookup("bob")
	require.False(t, ok)
}

func TestRegistryDelUserIdempotent(t *testing.T) {
	r := NewRegistry("")

	_, err := r.AddUser("alice", false, "")
	require.NoError(t, err)

	deleted, err := r.DelUser("alice")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = r.DelUser("alice")
	require.NoError(t, err)
	require.False(t, deleted)

	_, ok := r.Lookup("alice")
	require.False(t, ok)
}

// TestRegistryPersistence writes through one registry and loads the
// snapshot with a fresh one.
func TestRegistryPersistence(t *testing.T) {
	workdir := t.TempDir()

	r := NewRegistry(workdir)
	require.NoError(t, r.Load())

	_, err := r.AddUser("alice", true, "Pay alice")
	require.NoError(t, err)
	_, err = r.AddUser("bob", false, "")
	require.NoError(t, err)
	_, err = r.DelUser("bob")
	require.NoError(t, err)

	reloaded := NewRegistry(workdir)
	require.NoError(t, reloaded.Load())

	policy, ok := reloaded.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, UserPolicy{
		Name:        "alice",
		IsEmail:     true,
		Description: "Pay alice",
	}, policy)

	_, ok = reloaded.Lookup("bob")
	require.False(t, ok)
}

func TestRegistryLoadMissingFile(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Load())
}

// TestRegistryConcurrentPersistence races mutations on a persistent
// registry and checks the final users.json matches the in-memory
// state, so a restart cannot resurrect or lose users.
func TestRegistryConcurrentPersistence(t *testing.T) {
	workdir := t.TempDir()
	r := NewRegistry(workdir)
	require.NoError(t, r.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("user%d", i)
		keep := i%2 == 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := r.AddUser(name, false, "desc")
				require.NoError(t, err)
			}
			if !keep {
				_, err := r.DelUser(name)
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	r.mu.RLock()
	want := r.snapshotLocked()
	r.mu.RUnlock()

	reloaded := NewRegistry(workdir)
	require.NoError(t, reloaded.Load())

	reloaded.mu.RLock()
	got := reloaded.snapshotLocked()
	reloaded.mu.RUnlock()

	require.Equal(t, want, got)
}

// TestRegistryConcurrentAccess hammers the registry from writers and
// readers. Readers must only ever observe whole records, never a
// half-updated one.
func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry("")

	const users = 8
	const rounds = 100

	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		name := fmt.Sprintf("user%d", i)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_, err := r.AddUser(name, true, "desc-"+name)
				require.NoError(t, err)
				_, err = r.DelUser(name)
				require.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				policy, ok := r.Lookup(name)
				if !ok {
					continue
				}
				require.Equal(t, name, policy.Name)
				require.True(t, policy.IsEmail)
				require.Equal(t, "desc-"+name, policy.Description)
			}
		}()
	}
	wg.Wait()
}
