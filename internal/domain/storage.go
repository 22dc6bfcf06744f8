package domain

// SyncStage names the phase a sync is in.
type SyncStage string

const (
	SyncStageStarted  SyncStage = "started"
	SyncStageCaching  SyncStage = "caching"
	SyncStageCleanup  SyncStage = "cleanup"
	SyncStageFinished SyncStage = "finished"
)

// SyncProgress reports progress during featured-video synchronization.
type SyncProgress struct {
	Stage  SyncStage
	Total  int
	Cached  int
	Skipped int
	Failed  int
	Done   bool
	Videos []VideoDescriptor // set on the finished stage
	Error  error
}

// SyncObserver receives progress updates during sync operations.
type SyncObserver interface {
	OnProgress(progress SyncProgress)
}

// NoOpObserver discards progress updates (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnProgress(SyncProgress) {}
