package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/cache"
)

// SlotCache holds computed free-slot lists. Lookup returns the key a later Store
// must use, so a result computed before an invalidation is never served after it.
type SlotCache interface {
	Lookup(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (gen Generation, key string, hit bool)
	Store(ctx context.Context, key string, gen Generation)
	Invalidate(ctx context.Context, doctorID uuid.UUID)
}

// NopSlotCache never hits.
type NopSlotCache struct{}

func (NopSlotCache) Lookup(context.Context, uuid.UUID, time.Time, time.Time) (Generation, string, bool) {
	return Generation{}, "", false
}
func (NopSlotCache) Store(context.Context, string, Generation) {}
func (NopSlotCache) Invalidate(context.Context, uuid.UUID) {}

// StoreSlotCache keys entries by a per-doctor generation counter. Writes bump
// the counter, which orphans every older entry until its TTL expires.
// Cache failures are logged and treated as misses.
type StoreSlotCache struct {
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewStoreSlotCache(store cache.Store, ttl time.Duration, logger zerolog.Logger) *StoreSlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &StoreSlotCache{store: store, ttl: ttl, logger: logger}
}

func generationKey(doctorID uuid.UUID) string {
	return "slots:gen:" + doctorID.String()
}

func (c *StoreSlotCache) Lookup(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (Generation, string, bool) {
	var counter int64
	raw, ok, err := c.store.Get(ctx, generationKey(doctorID))
	if err != nil {
		c.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache generation read failed")
		return Generation{}, "", false
	}
	if ok {
		counter, _ = strconv.ParseInt(string(raw), 10, 64)
	}
	key := fmt.Sprintf("slots:%s:%d:%s:%s", doctorID, counter, from.Format(dateLayout), to.Format(dateLayout))

	data, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return Generation{}, key, false
	}
	var gen Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("slot cache entry corrupt")
		return Generation{}, key, false
	}
	return gen, key, true
}

func (c *StoreSlotCache) Store(ctx context.Context, key string, gen Generation) {
	if key == "" {
		return
	}
	data, err := json.Marshal(gen)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("slot cache write failed")
	}
}

func (c *StoreSlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID) {
	if _, err := c.store.Incr(ctx, generationKey(doctorID)); err != nil {
		c.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("slot cache invalidation failed")
	}
}

// dropStarted removes slots that no longer start after now. Cached lists age.
func dropStarted(slots []Slot, now time.Time) []Slot {
	out := slots[:0:0]
	for _, s := range slots {
		if s.Start.After(now) {
			out = append(out, s)
		}
	}
	return out
}
