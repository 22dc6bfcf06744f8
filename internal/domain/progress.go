package domain

// SyncResult summarizes what happened during a sync operation.
type SyncResult struct {
	Fetched int      // featured videos returned by the API
	Cached  int      // cacheVideo attempts that succeeded
	Skipped int      // featured videos already in the store
	Failed  int      // cacheVideo attempts that failed
	Removed []string // ids evicted because they are no longer featured
	Err     error    // set when the featured set could not be fetched
}

// OK reports whether the featured set was fetched.
func (r SyncResult) OK() bool {
	return r.Err == nil
}
