package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	status domain.Status
	err    error
	sent   []messaging.Message
}

func (f *fakeSource) Status(context.Context) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.err
}

func (f *fakeSource) Send(_ context.Context, cmd messaging.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.err
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func sampleStatus() domain.Status {
	return domain.Status{
		Lifecycle: "activated",
		Online:    true,
		Featured: []domain.VideoDescriptor{
			{ID: "v1", Title: "Sparkling Kitchen", Category: domain.CategoryHouseCleaning, URL: "/videos/v1.mp4"},
			{ID: "v2", Title: "Puppy Bath", Category: domain.CategoryPetCare, StaticPath: "/videos/featured/v2.mp4"},
		},
		Availability: domain.Availability{Static: true, Total: 2},
		Stats:        domain.CacheStats{Count: 2, MaxItems: 10, MaxBytes: 1024, TotalBytes: 512},
		Caches:       []string{"static-v1", "api-v1"},
	}
}

func TestLoadStatusCmd(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	msg := LoadStatusCmd(src)()
	loaded, ok := msg.(StatusLoadedMsg)
	require.True(t, ok)
	assert.Len(t, loaded.Status.Featured, 2)

	src.err = domain.ErrServerOffline
	_, ok = LoadStatusCmd(src)().(ErrMsg)
	assert.True(t, ok)
}

func TestStatusPopulatesView(t *testing.T) {
	m := NewModel(&fakeSource{}, nil)
	m, _ = update(t, m, StatusLoadedMsg{Status: sampleStatus()})

	view := m.View()
	assert.Contains(t, view, "Sparkling Kitchen")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "activated")
	assert.Contains(t, view, "static-v1")
}

func TestStatusErrorMarksDisconnected(t *testing.T) {
	m := NewModel(&fakeSource{}, nil)
	m, _ = update(t, m, StatusLoadedMsg{Status: sampleStatus()})
	m, _ = update(t, m, ErrMsg{Err: errors.New("refused"), Context: "loading status"})

	assert.False(t, m.connected)
	assert.Contains(t, m.View(), "disconnected")
}

func TestSyncEventsUpdateTable(t *testing.T) {
	events := make(chan tea.Msg, 1)
	m := NewModel(&fakeSource{}, events)

	m, _ = update(t, m, EventMsg{Message: messaging.SyncStarted()})
	assert.True(t, m.syncing)

	data := []domain.VideoDescriptor{{ID: "n1", Title: "Shoe Shine"}}
	m, cmd := update(t, m, EventMsg{Message: messaging.SyncSucceeded(data)})
	assert.False(t, m.syncing)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "Shoe Shine")
	assert.Contains(t, m.View(), "sync succeeded: 1 videos")

	m, _ = update(t, m, EventMsg{Message: messaging.SyncFailed(domain.ErrServerOffline)})
	assert.Contains(t, m.View(), "sync failed")
}

func TestSyncEventsShowTheirTag(t *testing.T) {
	m := NewModel(&fakeSource{}, nil)

	m, _ = update(t, m, EventMsg{Message: messaging.SyncStarted().WithTag(messaging.SyncTagStore)})
	m, _ = update(t, m, EventMsg{Message: messaging.SyncStarted().WithTag("sync-featured-videos")})
	assert.Contains(t, m.View(), "[store-sync] sync started")
	assert.Contains(t, m.View(), "[sync-featured-videos] sync started")
}

func TestCacheVideoKeySendsSelected(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src, nil)
	m, _ = update(t, m, StatusLoadedMsg{Status: sampleStatus()})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})

	v, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "v2", v.ID)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	sent, ok := cmd().(CommandSentMsg)
	require.True(t, ok)
	assert.Equal(t, messaging.KindCacheVideo, sent.Kind)

	require.Len(t, src.sent, 1)
	p, err := src.sent[0].CacheVideoPayload()
	require.NoError(t, err)
	assert.Equal(t, "v2", p.ID)
	assert.Equal(t, "/videos/featured/v2.mp4", p.URL)
}

func TestClearCachesKey(t *testing.T) {
	src := &fakeSource{}
	m := NewModel(src, nil)

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'X'}})
	require.NotNil(t, cmd)
	cmd()

	require.Len(t, src.sent, 1)
	assert.Equal(t, messaging.KindClearCaches, src.sent[0].Kind)
}

func TestWaitForEventCmd(t *testing.T) {
	assert.Nil(t, WaitForEventCmd(nil))

	ch := make(chan tea.Msg, 1)
	ch <- EventMsg{Message: messaging.CachesCleared()}
	msg := WaitForEventCmd(ch)()
	assert.IsType(t, EventMsg{}, msg)

	close(ch)
	assert.IsType(t, StreamClosedMsg{}, WaitForEventCmd(ch)())
}

func TestChannelObserverDoesNotBlock(t *testing.T) {
	ch := make(chan tea.Msg, 1)
	obs := NewChannelObserver(ch)

	obs.OnProgress(domain.SyncProgress{Stage: domain.SyncStageStarted})
	obs.OnMessage(messaging.SyncStarted()) // dropped, channel full

	assert.Len(t, ch, 1)
	assert.IsType(t, SyncProgressMsg{}, <-ch)
}

func TestLocalProgressFinishes(t *testing.T) {
	m := NewModel(&fakeSource{}, nil)
	m, _ = update(t, m, SyncProgressMsg{Progress: domain.SyncProgress{Stage: domain.SyncStageCaching, Total: 2}})
	assert.True(t, m.syncing)

	m, _ = update(t, m, SyncProgressMsg{Progress: domain.SyncProgress{
		Stage: domain.SyncStageFinished, Done: true, Cached: 2,
		Videos: []domain.VideoDescriptor{{ID: "a", Title: "Laundry"}},
	}})
	assert.False(t, m.syncing)
	assert.Contains(t, m.View(), "Laundry")
}
