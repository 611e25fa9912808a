package testutil

import (
	"testing"

	"github.com/profileboard/profileboard/internal/storage"
)

// NewTestStore creates a profile store backed by a temporary directory.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()

	logger := NewTestLogger(t)

	store, err := storage.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})

	return store
}
