// ABOUTME: Store interface and errors for the client's local persistent state
// ABOUTME: Holds the login credential and the last active conversation between runs

package store

import (
	"context"
	"errors"

	"github.com/2389/coven-groups/internal/auth"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Store persists the small amount of client state that survives restarts.
type Store interface {
	// GetCredential returns the saved credential or ErrNotFound.
	GetCredential(ctx context.Context) (*auth.Credential, error)
	// SaveCredential replaces any saved credential.
	SaveCredential(ctx context.Context, cred *auth.Credential) error
	// ClearCredential removes the saved credential. Clearing an empty store is not an error.
	ClearCredential(ctx context.Context) error

	// GetLastConversation returns the last selected group ID or ErrNotFound.
	GetLastConversation(ctx context.Context) (string, error)
	// SetLastConversation records the last selected group ID.
	SetLastConversation(ctx context.Context, groupID string) error

	Close() error
}
