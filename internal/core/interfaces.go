// Package core defines the domain types, collaborator interfaces, and shared
// error sentinels for the reflection pipeline.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/reflection-service/internal/audio"
)

// Errors classified by the worker boundary. Collaborator implementations
// wrap these so the pipeline can pick a retry policy without inspecting raw
// transport failures.
var (
	// ErrRateLimited indicates an upstream capability rejected the call for
	// rate-limiting reasons. Always retried, never fatal on first sight.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrMalformedModelOutput indicates an LLM response that failed
	// structural validation after bounded re-prompting.
	ErrMalformedModelOutput = errors.New("malformed model output")
	// ErrNoHistory indicates a subscriber with no feeling entries in the
	// lookback window. The work item is skipped, not failed.
	ErrNoHistory = errors.New("no feeling history in window")
)

// Subscriber is one recipient of the daily reflection. The subscription
// subsystem owns creation and verification; the pipeline only reads.
type Subscriber struct {
	Email        string    `json:"email"`
	Active       bool      `json:"active"`
	Verified     bool      `json:"verified"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// Eligible reports whether the subscriber should receive reflections. The
// directory is the system of record: active and verified, nothing else.
func (s Subscriber) Eligible() bool {
	return s.Active && s.Verified
}

// FeelingEntry is one journaled feeling for one subscriber.
type FeelingEntry struct {
	Subscriber string    `json:"subscriber"`
	Timestamp  time.Time `json:"timestamp"`
	Feeling    string    `json:"feeling"`
}

// WorkItem is one unit of pipeline work: generate and deliver today's
// reflection for one subscriber.
type WorkItem struct {
	Subscriber string
}

// PersonalityDigest maps trait names to short explanations, derived from
// recent feelings. Held in worker memory only, never persisted.
type PersonalityDigest map[string]string

// Narrative is the composed reflection text for one run.
type Narrative struct {
	Text string
}

// SubscriberDirectory lists the subscribers eligible for dispatch.
type SubscriberDirectory interface {
	// ListActive returns every subscriber that is active and verified.
	ListActive(ctx context.Context) ([]Subscriber, error)
}

// HistoryStore is the durable, append-only feeling log.
type HistoryStore interface {
	// Query returns the subscriber's entries with timestamps strictly
	// after since, ordered oldest to newest.
	Query(ctx context.Context, subscriber string, since time.Time) ([]FeelingEntry, error)
}

// ReferenceTextProvider fetches the daily reference passage. Failures never
// reach the caller: any fetch or parse problem yields an empty string.
type ReferenceTextProvider interface {
	Fetch(ctx context.Context, date time.Time) string
}

// Completer is a stateless single-prompt LLM completion capability.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SpeechSynthesizer converts narrative text into one contiguous spoken
// track. Persona and delivery style are fixed at construction.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Track, error)
}

// MP3Encoder exports a mixed PCM track as a compressed MP3 artifact.
type MP3Encoder interface {
	EncodeMP3(ctx context.Context, track audio.Track) ([]byte, error)
}

// ArtifactStore persists mixed audio and issues time-limited retrieval
// links. Put is overwrite-safe; keys carry a generation timestamp so
// replayed items write new objects rather than clobbering meaningful state.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Sign(key string, ttl time.Duration) (string, error)
}

// Notifier delivers the retrieval link to the subscriber. A failed send
// does not undo the stored artifact.
type Notifier interface {
	Send(ctx context.Context, subscriber, link string) error
}

// WorkQueue accepts work items for at-least-once delivery to workers.
type WorkQueue interface {
	Enqueue(ctx context.Context, item WorkItem) error
}
