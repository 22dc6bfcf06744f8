package main

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mmcdole/reelcache/internal/domain"
)

const snapshotKey = "featured"

type featuredResolver interface {
	Resolve(ctx context.Context) []domain.VideoDescriptor
	AvailabilityStatus(ctx context.Context) domain.Availability
}

type snapshot struct {
	Featured     []domain.VideoDescriptor
	Availability domain.Availability
}

// featuredSnapshot holds the last resolved featured list so status polls
// do not walk the tiers. A finished store sync drops it.
type featuredSnapshot struct {
	resolver featuredResolver
	next     domain.SyncObserver
	cache    *ttlcache.Cache[string, snapshot]
}

func newFeaturedSnapshot(resolver featuredResolver, ttl time.Duration, next domain.SyncObserver) *featuredSnapshot {
	if next == nil {
		next = domain.NoOpObserver{}
	}
	return &featuredSnapshot{
		resolver: resolver,
		next:     next,
		cache: ttlcache.New[string, snapshot](
			ttlcache.WithTTL[string, snapshot](ttl),
			ttlcache.WithDisableTouchOnHit[string, snapshot](),
		),
	}
}

// Refresh resolves the featured list and availability and stores the result.
func (f *featuredSnapshot) Refresh(ctx context.Context) snapshot {
	snap := snapshot{
		Featured:     f.resolver.Resolve(ctx),
		Availability: f.resolver.AvailabilityStatus(ctx),
	}
	f.cache.Set(snapshotKey, snap, ttlcache.DefaultTTL)
	return snap
}

// Get returns the stored snapshot, resolving a new one once it has expired.
func (f *featuredSnapshot) Get(ctx context.Context) snapshot {
	if item := f.cache.Get(snapshotKey); item != nil && !item.IsExpired() {
		return item.Value()
	}
	return f.Refresh(ctx)
}

func (f *featuredSnapshot) OnProgress(p domain.SyncProgress) {
	f.next.OnProgress(p)
	if p.Done {
		f.cache.Delete(snapshotKey)
	}
}
