// Package worker tests the reflection pipeline state machine with fake
// collaborators.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/audio"
	"github.com/book-expert/reflection-service/internal/core"
)

var (
	errSynthesisDown = errors.New("synthesis down")
	errNotifyDown    = errors.New("notify down")
)

type fakeHistory struct {
	entries []core.FeelingEntry
	err     error
	calls   int
}

func (f *fakeHistory) Query(
	_ context.Context, _ string, _ time.Time,
) ([]core.FeelingEntry, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.entries, nil
}

type fakeReference struct {
	text string
}

func (f *fakeReference) Fetch(_ context.Context, _ time.Time) string {
	return f.text
}

// fakeComposer fails a scripted number of times per method before succeeding.
type fakeComposer struct {
	digest    core.PersonalityDigest
	narrative core.Narrative

	summarizeFailures int
	summarizeErr      error
	summarizeCalls    int

	composeFailures int
	composeErr      error
	composeCalls    int

	lastReference  string
	lastMostRecent string
	lastEntryCount int
}

func (f *fakeComposer) SummarizePersonality(
	_ context.Context, entries []core.FeelingEntry,
) (core.PersonalityDigest, error) {
	f.summarizeCalls++
	f.lastEntryCount = len(entries)

	if f.summarizeCalls <= f.summarizeFailures {
		return nil, f.summarizeErr
	}

	return f.digest, nil
}

func (f *fakeComposer) ComposeNarrative(
	_ context.Context, _ core.PersonalityDigest, referenceText, mostRecentFeeling string,
) (core.Narrative, error) {
	f.composeCalls++
	f.lastReference = referenceText
	f.lastMostRecent = mostRecentFeeling

	if f.composeCalls <= f.composeFailures {
		return core.Narrative{}, f.composeErr
	}

	return f.narrative, nil
}

type fakeSynthesizer struct {
	track    audio.Track
	failures int
	calls    int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string) (audio.Track, error) {
	f.calls++

	if f.calls <= f.failures {
		return audio.Track{}, errSynthesisDown
	}

	return f.track, nil
}

type fakeEncoder struct {
	calls int
}

func (f *fakeEncoder) EncodeMP3(_ context.Context, track audio.Track) ([]byte, error) {
	f.calls++

	return []byte(fmt.Sprintf("mp3:%d-samples", len(track.Samples))), nil
}

type fakeArtifacts struct {
	puts         map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{
		puts:         map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (f *fakeArtifacts) Put(_ context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}

	f.puts[key] = data
	f.contentTypes[key] = contentType

	return nil
}

func (f *fakeArtifacts) Sign(key string, _ time.Duration) (string, error) {
	return "https://reflections.example.com/artifacts/" + key + "?sig=test", nil
}

type fakeNotifier struct {
	sent     []string
	failures int
	calls    int
}

func (f *fakeNotifier) Send(_ context.Context, subscriber, link string) error {
	f.calls++

	if f.calls <= f.failures {
		return errNotifyDown
	}

	f.sent = append(f.sent, subscriber+" "+link)

	return nil
}

type collaborators struct {
	history     *fakeHistory
	reference   *fakeReference
	composer    *fakeComposer
	synthesizer *fakeSynthesizer
	encoder     *fakeEncoder
	artifacts   *fakeArtifacts
	notifier    *fakeNotifier
}

func happyCollaborators() *collaborators {
	base := time.Date(2026, 8, 20, 7, 0, 0, 0, time.UTC)

	return &collaborators{
		history: &fakeHistory{entries: []core.FeelingEntry{
			{Subscriber: "a@x.com", Timestamp: base, Feeling: "anxious"},
			{Subscriber: "a@x.com", Timestamp: base.AddDate(0, 0, 1), Feeling: "hopeful"},
			{Subscriber: "a@x.com", Timestamp: base.AddDate(0, 0, 2), Feeling: "grateful"},
		}},
		reference: &fakeReference{text: "Be still and know."},
		composer: &fakeComposer{
			digest:    core.PersonalityDigest{"steady": "keeps an even keel"},
			narrative: core.Narrative{Text: "Here is a reflection for your day."},
		},
		synthesizer: &fakeSynthesizer{track: audio.Track{
			SampleRate: audio.DefaultSampleRate,
			Channels:   audio.DefaultChannels,
			Samples:    []int16{100, 200, 300, 400},
		}},
		encoder:   &fakeEncoder{},
		artifacts: newFakeArtifacts(),
		notifier:  &fakeNotifier{},
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker_test.log")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = log.Close()
	})

	return log
}

func newTestPipeline(t *testing.T, c *collaborators) *Pipeline {
	t.Helper()

	bed := audio.Track{
		SampleRate: audio.DefaultSampleRate,
		Channels:   audio.DefaultChannels,
		Samples:    []int16{10, -10},
	}

	pipeline, err := New(
		c.history, c.reference, c.composer, c.synthesizer, c.encoder,
		c.artifacts, c.notifier, bed,
		Options{
			RetryDelay:     time.Millisecond,
			RateLimitDelay: 2 * time.Millisecond,
		},
		testLogger(t),
	)
	require.NoError(t, err)

	return pipeline
}

func TestExecute_HappyPathStoresAndNotifies(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	require.Len(t, c.artifacts.puts, 1)

	for key := range c.artifacts.puts {
		assert.True(t, strings.HasPrefix(key, "prayers/a@x.com/"))
		assert.True(t, strings.HasSuffix(key, ".mp3"))
		assert.Equal(t, "audio/mpeg", c.artifacts.contentTypes[key])
	}

	require.Len(t, c.notifier.sent, 1)
	assert.Contains(t, c.notifier.sent[0], "a@x.com https://reflections.example.com/artifacts/prayers/")

	// The newest feeling is addressed directly, not summarized.
	assert.Equal(t, 2, c.composer.lastEntryCount)
	assert.Equal(t, "grateful", c.composer.lastMostRecent)
	assert.Equal(t, "Be still and know.", c.composer.lastReference)
}

func TestExecute_NoHistorySkipsCleanly(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.history.entries = nil
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "new@x.com"})
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, state)

	assert.Empty(t, c.artifacts.puts)
	assert.Empty(t, c.notifier.sent)
	assert.Zero(t, c.composer.summarizeCalls)
}

func TestExecute_EmptyReferenceStillCompletes(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.reference.text = ""
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Empty(t, c.composer.lastReference)
}

func TestExecute_TransientSynthesisFailureRetried(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.synthesizer.failures = 2
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 3, c.synthesizer.calls)
}

func TestExecute_ExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.synthesizer.failures = 10
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.ErrorIs(t, err, errSynthesisDown)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 3, c.synthesizer.calls)

	assert.Empty(t, c.artifacts.puts)
	assert.Empty(t, c.notifier.sent)
}

func TestExecute_MalformedOutputIsNotRetriedAgain(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.composer.summarizeFailures = 10
	c.composer.summarizeErr = fmt.Errorf("exhausted: %w", core.ErrMalformedModelOutput)
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.ErrorIs(t, err, core.ErrMalformedModelOutput)
	assert.Equal(t, StateFailed, state)

	// The composer already re-prompted internally; one call only.
	assert.Equal(t, 1, c.composer.summarizeCalls)
}

func TestExecute_RateLimitedCompletionRetried(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.composer.composeFailures = 1
	c.composer.composeErr = fmt.Errorf("completion: %w", core.ErrRateLimited)
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)
	assert.Equal(t, 2, c.composer.composeCalls)
}

func TestExecute_NotifyFailureLeavesArtifactStored(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	c.notifier.failures = 10
	pipeline := newTestPipeline(t, c)

	state, err := pipeline.Execute(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.ErrorIs(t, err, errNotifyDown)
	assert.Equal(t, StateFailed, state)

	// A failed send never undoes the stored artifact; redelivery writes a
	// new timestamped key.
	assert.Len(t, c.artifacts.puts, 1)
	assert.Empty(t, c.notifier.sent)
}

func TestHandle_MapsTerminalsToAckNack(t *testing.T) {
	t.Parallel()

	c := happyCollaborators()
	pipeline := newTestPipeline(t, c)

	require.NoError(t, pipeline.Handle(context.Background(), core.WorkItem{Subscriber: "a@x.com"}))

	skipped := happyCollaborators()
	skipped.history.entries = nil
	skippedPipeline := newTestPipeline(t, skipped)

	require.NoError(t, skippedPipeline.Handle(
		context.Background(), core.WorkItem{Subscriber: "new@x.com"},
	))

	failing := happyCollaborators()
	failing.synthesizer.failures = 10
	failingPipeline := newTestPipeline(t, failing)

	err := failingPipeline.Handle(context.Background(), core.WorkItem{Subscriber: "a@x.com"})
	require.ErrorIs(t, err, errSynthesisDown)
}

func TestState_StringAndTerminal(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "done", StateDone.String())
	assert.False(t, StateNotifying.Terminal())
	assert.True(t, StateSkipped.Terminal())
	assert.True(t, StateFailed.Terminal())
}
