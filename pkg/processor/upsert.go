package processor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/store"
)

// upsertCacheLimit bounds the debounce map; expired entries are pruned
// when it fills up.
const upsertCacheLimit = 4096

// UserUpserter keeps user rows and their graph nodes fresh as messages
// arrive, debounced per external id so chatty senders do not hammer the
// users table. Upserts are best-effort: failures are logged and the
// message flow continues.
type UserUpserter struct {
	ttl  time.Duration
	mu   sync.Mutex
	last map[string]time.Time
}

// NewUserUpserter builds an upserter with the given debounce window.
func NewUserUpserter(ttl time.Duration) *UserUpserter {
	return &UserUpserter{ttl: ttl, last: make(map[string]time.Time)}
}

// MaybeUpsert refreshes the sender's user record unless it was refreshed
// within the debounce window. Senders without an external id are skipped.
func (u *UserUpserter) MaybeUpsert(ctx context.Context, st *store.Store, sender models.Sender, ns string) {
	if sender.ExternalID == "" {
		return
	}

	now := time.Now()
	u.mu.Lock()
	if last, ok := u.last[sender.ExternalID]; ok && now.Sub(last) < u.ttl {
		u.mu.Unlock()
		return
	}
	u.mu.Unlock()

	if _, _, err := st.UpsertUserNode(ctx, sender.ExternalID, ns, sender.Name, sender.Metadata); err != nil {
		slog.WarnContext(ctx, "User upsert failed", "external_id", sender.ExternalID, "error", err)
		return
	}

	u.mu.Lock()
	if len(u.last) >= upsertCacheLimit {
		for k, t := range u.last {
			if now.Sub(t) >= u.ttl {
				delete(u.last, k)
			}
		}
	}
	u.last[sender.ExternalID] = now
	u.mu.Unlock()
}
