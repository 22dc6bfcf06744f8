// Package messaging is the typed contract between application code and the
// interception layer. Commands flow toward the interception layer;
// notifications are broadcast back to every listener.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/reelcache/internal/domain"
)

// Kind is the closed set of message kinds.
type Kind string

// Commands (application -> interception layer)
const (
	KindSkipWaiting Kind = "skip-waiting"
	KindCacheVideo  Kind = "cache-video"
	KindClearCaches Kind = "clear-caches"
)

// Notifications (interception layer -> every listener)
const (
	KindSyncStarted   Kind = "sync-started"
	KindSyncSucceeded Kind = "sync-succeeded"
	KindSyncFailed    Kind = "sync-failed"
	KindCachesCleared Kind = "caches-cleared"
)

// Kinds lists every kind, commands first.
var Kinds = []Kind{
	KindSkipWaiting,
	KindCacheVideo,
	KindClearCaches,
	KindSyncStarted,
	KindSyncSucceeded,
	KindSyncFailed,
	KindCachesCleared,
}

var (
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrWrongKind      = errors.New("message kind does not carry this payload")
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsCommand reports whether k flows from the application to the interception layer.
func (k Kind) IsCommand() bool {
	switch k {
	case KindSkipWaiting, KindCacheVideo, KindClearCaches:
		return true
	}
	return false
}

// Message is the envelope for every command and notification.
type Message struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"type"`
	SentAt time.Time `json:"sentAt"`
	// Tag names the sync that produced a notification.
	Tag     string          `json:"tag,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SyncTagStore tags notifications from the local store sync.
const SyncTagStore = "store-sync"

// WithTag returns a copy of m tagged with the sync that produced it.
func (m Message) WithTag(tag string) Message {
	m.Tag = tag
	return m
}

// CacheVideoPayload asks the interception layer to cache one video.
type CacheVideoPayload struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// SyncSucceededPayload carries the featured set fetched by a sync.
type SyncSucceededPayload struct {
	Data []domain.VideoDescriptor `json:"data"`
}

// SyncFailedPayload carries a description of why a sync failed.
type SyncFailedPayload struct {
	Error string `json:"error"`
}

func newMessage(kind Kind, payload any) Message {
	m := Message{
		ID:     uuid.NewString(),
		Kind:   kind,
		SentAt: time.Now().UTC(),
	}
	if payload != nil {
		// Payload types are plain structs; marshalling cannot fail.
		m.Payload, _ = json.Marshal(payload)
	}
	return m
}

func SkipWaiting() Message { return newMessage(KindSkipWaiting, nil) }

func CacheVideo(url, id string) Message {
	return newMessage(KindCacheVideo, CacheVideoPayload{URL: url, ID: id})
}

func ClearCaches() Message { return newMessage(KindClearCaches, nil) }

func SyncStarted() Message { return newMessage(KindSyncStarted, nil) }

func SyncSucceeded(data []domain.VideoDescriptor) Message {
	if data == nil {
		data = []domain.VideoDescriptor{}
	}
	return newMessage(KindSyncSucceeded, SyncSucceededPayload{Data: data})
}

func SyncFailed(err error) Message {
	desc := "unknown error"
	if err != nil {
		desc = err.Error()
	}
	return newMessage(KindSyncFailed, SyncFailedPayload{Error: desc})
}

func CachesCleared() Message { return newMessage(KindCachesCleared, nil) }

// CacheVideoPayload decodes the payload of a cache-video command.
func (m Message) CacheVideoPayload() (CacheVideoPayload, error) {
	var p CacheVideoPayload
	if err := m.decodePayload(KindCacheVideo, &p); err != nil {
		return p, err
	}
	if p.URL == "" || p.ID == "" {
		return p, fmt.Errorf("%w: cache video needs url and id", ErrInvalidPayload)
	}
	return p, nil
}

// SyncSucceededPayload decodes the payload of a sync-succeeded notification.
func (m Message) SyncSucceededPayload() (SyncSucceededPayload, error) {
	var p SyncSucceededPayload
	err := m.decodePayload(KindSyncSucceeded, &p)
	return p, err
}

// SyncFailedPayload decodes the payload of a sync-failed notification.
func (m Message) SyncFailedPayload() (SyncFailedPayload, error) {
	var p SyncFailedPayload
	err := m.decodePayload(KindSyncFailed, &p)
	return p, err
}

func (m Message) decodePayload(want Kind, dest any) error {
	if m.Kind != want {
		return fmt.Errorf("%w: have %s, want %s", ErrWrongKind, m.Kind, want)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrInvalidPayload, m.Kind)
	}
	if err := json.Unmarshal(m.Payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Decode parses a message and rejects unknown kinds and malformed payloads.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}

	var err error
	switch m.Kind {
	case KindCacheVideo:
		_, err = m.CacheVideoPayload()
	case KindSyncSucceeded:
		_, err = m.SyncSucceededPayload()
	case KindSyncFailed:
		_, err = m.SyncFailedPayload()
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}
