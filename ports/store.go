package ports

import (
	"context"
	"time"

	"github.com/keyward/keyward/core"
)

// ChallengeStore holds pending ceremony state keyed by session id.
//
// TakeIfValid is the protocol's only mutual-exclusion point: it atomically
// removes and returns the entry, so of N racing finish calls for the same
// session id exactly one observes found=true. An entry past its TTL is never
// returned.
type ChallengeStore interface {
	Put(ctx context.Context, sessionID string, ceremony core.PendingCeremony, ttl time.Duration) error
	TakeIfValid(ctx context.Context, sessionID string) (core.PendingCeremony, bool, error)
}
