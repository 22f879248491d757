package core

import (
	"context"
	"errors"

	"github.com/hearby/hearby/internal/domain"
)

// ErrStore wraps failures of the signaling document store.
var ErrStore = errors.New("signal store")

// SignalStore abstracts the shared document database used for signaling.
// One document per participant per channel, keyed by participant id, with
// server-assigned write timestamps.
// Owned by the adapter; the adapter holds no per-session state.
type SignalStore interface {
	// PublishSelf creates or overwrites the caller's document.
	PublishSelf(ctx context.Context, ch domain.Channel, id domain.UserID, doc domain.PeerDocument) error
	// PatchSelf merge-updates the caller's document and refreshes its
	// timestamp. Candidate lists are unioned, never overwritten.
	PatchSelf(ctx context.Context, ch domain.Channel, id domain.UserID, patch domain.PeerPatch) error
	// DeleteSelf removes a peer document. Best-effort at the call sites
	// that leave a channel.
	DeleteSelf(ctx context.Context, ch domain.Channel, id domain.UserID) error
	// ListAll is a one-shot read of every peer document in the channel.
	ListAll(ctx context.Context, ch domain.Channel) ([]domain.PeerDocument, error)
	// Subscribe delivers the full document set on every change until the
	// returned stop func is called.
	Subscribe(ctx context.Context, ch domain.Channel, fn func([]domain.PeerDocument)) (stop func(), err error)
}
