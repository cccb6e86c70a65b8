package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/cenkalti/backoff/v4"

	"github.com/book-expert/reflection-service/internal/audio"
	"github.com/book-expert/reflection-service/internal/core"
	"github.com/book-expert/reflection-service/internal/metrics"
)

const (
	defaultItemTimeout    = 3 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 2 * time.Second
	defaultRateLimitDelay = 15 * time.Second
	defaultLookbackDays   = 365
	defaultLinkTTL        = 24 * time.Hour

	artifactContentType = "audio/mpeg"
	artifactKeyFormat   = "prayers/%s/%s.mp3"
	// Timestamps in artifact keys use dashes instead of colons so the key
	// stays clean in URLs and object names.
	artifactTimeLayout = "2006-01-02T15-04-05Z"
)

// narrativeComposer is the completion-backed composition capability.
type narrativeComposer interface {
	SummarizePersonality(ctx context.Context, entries []core.FeelingEntry) (core.PersonalityDigest, error)
	ComposeNarrative(
		ctx context.Context,
		digest core.PersonalityDigest,
		referenceText string,
		mostRecentFeeling string,
	) (core.Narrative, error)
}

// Options bound the per-item run. Zero values fall back to defaults.
type Options struct {
	LookbackDays   int
	ItemTimeout    time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	RateLimitDelay time.Duration
	LinkTTL        time.Duration
}

func (o Options) withDefaults() Options {
	if o.LookbackDays <= 0 {
		o.LookbackDays = defaultLookbackDays
	}

	if o.ItemTimeout <= 0 {
		o.ItemTimeout = defaultItemTimeout
	}

	if o.RetryAttempts <= 0 {
		o.RetryAttempts = defaultRetryAttempts
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}

	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = defaultRateLimitDelay
	}

	if o.LinkTTL <= 0 {
		o.LinkTTL = defaultLinkTTL
	}

	return o
}

// Pipeline executes the reflection pipeline for one work item at a time.
// All per-item state lives in the execution value, so one Pipeline serves
// any number of concurrent workers.
type Pipeline struct {
	history     core.HistoryStore
	reference   core.ReferenceTextProvider
	composer    narrativeComposer
	synthesizer core.SpeechSynthesizer
	encoder     core.MP3Encoder
	artifacts   core.ArtifactStore
	notifier    core.Notifier
	bed         audio.Track
	opts        Options
	log         *logger.Logger
	now         func() time.Time
}

// New creates a pipeline over the given collaborators.
func New(
	history core.HistoryStore,
	reference core.ReferenceTextProvider,
	composer narrativeComposer,
	synthesizer core.SpeechSynthesizer,
	encoder core.MP3Encoder,
	artifacts core.ArtifactStore,
	notifier core.Notifier,
	bed audio.Track,
	opts Options,
	log *logger.Logger,
) (*Pipeline, error) {
	bedErr := bed.Validate()
	if bedErr != nil {
		return nil, fmt.Errorf("background bed is not usable: %w", bedErr)
	}

	return &Pipeline{
		history:     history,
		reference:   reference,
		composer:    composer,
		synthesizer: synthesizer,
		encoder:     encoder,
		artifacts:   artifacts,
		notifier:    notifier,
		bed:         bed,
		opts:        opts.withDefaults(),
		log:         log,
		now:         time.Now,
	}, nil
}

// execution carries everything one run accumulates between stages.
type execution struct {
	item      core.WorkItem
	state     State
	entries   []core.FeelingEntry
	digest    core.PersonalityDigest
	reference string
	narrative core.Narrative
	spoken    audio.Track
	mixed     audio.Track
	encoded   []byte
	link      string
}

// Handle adapts Execute to the queue contract: Failed returns its error so
// the item nacks; Done and Skipped return nil so it acks.
func (p *Pipeline) Handle(ctx context.Context, item core.WorkItem) error {
	state, err := p.Execute(ctx, item)
	if state == StateFailed {
		return err
	}

	return nil
}

// Execute drives the state machine for one item under the per-item deadline
// and returns the terminal state. The error is non-nil only for Failed.
func (p *Pipeline) Execute(ctx context.Context, item core.WorkItem) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ItemTimeout)
	defer cancel()

	exec := &execution{item: item, state: StateFetching}

	for !exec.state.Terminal() {
		stage := exec.state
		started := p.now()

		err := p.step(ctx, exec)

		metrics.StageDuration.WithLabelValues(stage.String()).Observe(
			p.now().Sub(started).Seconds(),
		)

		if err != nil {
			if errors.Is(err, core.ErrNoHistory) {
				p.log.Info("No history for %s, skipping run", item.Subscriber)
				metrics.ItemsCompleted.WithLabelValues(metrics.OutcomeSkipped).Inc()

				exec.state = StateSkipped

				return StateSkipped, nil
			}

			p.log.Error("Run for %s failed while %s: %v", item.Subscriber, stage, err)
			metrics.ItemsCompleted.WithLabelValues(metrics.OutcomeFailed).Inc()

			exec.state = StateFailed

			return StateFailed, fmt.Errorf("run failed while %s: %w", stage, err)
		}
	}

	metrics.ItemsCompleted.WithLabelValues(metrics.OutcomeDone).Inc()
	p.log.Info("Run for %s done, link delivered", item.Subscriber)

	return StateDone, nil
}

// step performs the work of the current state and advances to the next one.
func (p *Pipeline) step(ctx context.Context, exec *execution) error {
	switch exec.state {
	case StateFetching:
		return p.fetch(ctx, exec)
	case StateSummarizing:
		return p.summarize(ctx, exec)
	case StateComposing:
		return p.compose(ctx, exec)
	case StateSynthesizing:
		return p.synthesize(ctx, exec)
	case StateMixing:
		return p.mix(exec)
	case StateStoring:
		return p.store(ctx, exec)
	case StateNotifying:
		return p.notify(ctx, exec)
	case StateDone, StateSkipped, StateFailed:
		return nil
	default:
		return fmt.Errorf("no transition from state %s", exec.state)
	}
}

func (p *Pipeline) fetch(ctx context.Context, exec *execution) error {
	since := p.now().AddDate(0, 0, -p.opts.LookbackDays)

	err := p.withRetry(ctx, func() error {
		entries, queryErr := p.history.Query(ctx, exec.item.Subscriber, since)
		if queryErr != nil {
			return queryErr
		}

		exec.entries = entries

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to fetch feeling history: %w", err)
	}

	if len(exec.entries) == 0 {
		return core.ErrNoHistory
	}

	exec.state = StateSummarizing

	return nil
}

func (p *Pipeline) summarize(ctx context.Context, exec *execution) error {
	// The newest entry is addressed directly during composition; the
	// summary covers everything before it, unless it is all there is.
	summaryEntries := exec.entries
	if len(summaryEntries) > 1 {
		summaryEntries = summaryEntries[:len(summaryEntries)-1]
	}

	err := p.withRetry(ctx, func() error {
		digest, summarizeErr := p.composer.SummarizePersonality(ctx, summaryEntries)
		if summarizeErr != nil {
			return summarizeErr
		}

		exec.digest = digest

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to summarize personality: %w", err)
	}

	exec.state = StateComposing

	return nil
}

func (p *Pipeline) compose(ctx context.Context, exec *execution) error {
	// Fetch never fails; a missing passage composes without it.
	exec.reference = p.reference.Fetch(ctx, p.now())

	mostRecent := exec.entries[len(exec.entries)-1].Feeling

	err := p.withRetry(ctx, func() error {
		narrative, composeErr := p.composer.ComposeNarrative(
			ctx, exec.digest, exec.reference, mostRecent,
		)
		if composeErr != nil {
			return composeErr
		}

		exec.narrative = narrative

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to compose narrative: %w", err)
	}

	exec.state = StateSynthesizing

	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, exec *execution) error {
	err := p.withRetry(ctx, func() error {
		spoken, synthesizeErr := p.synthesizer.Synthesize(ctx, exec.narrative.Text)
		if synthesizeErr != nil {
			return synthesizeErr
		}

		exec.spoken = spoken

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	exec.state = StateMixing

	return nil
}

func (p *Pipeline) mix(exec *execution) error {
	mixed, err := audio.Mix(exec.spoken, p.bed)
	if err != nil {
		return fmt.Errorf("failed to mix spoken track over bed: %w", err)
	}

	exec.mixed = mixed
	exec.state = StateStoring

	return nil
}

func (p *Pipeline) store(ctx context.Context, exec *execution) error {
	encodeErr := p.withRetry(ctx, func() error {
		encoded, err := p.encoder.EncodeMP3(ctx, exec.mixed)
		if err != nil {
			return err
		}

		exec.encoded = encoded

		return nil
	})
	if encodeErr != nil {
		return fmt.Errorf("failed to encode artifact: %w", encodeErr)
	}

	key := fmt.Sprintf(
		artifactKeyFormat,
		exec.item.Subscriber,
		p.now().UTC().Format(artifactTimeLayout),
	)

	putErr := p.withRetry(ctx, func() error {
		return p.artifacts.Put(ctx, key, exec.encoded, artifactContentType)
	})
	if putErr != nil {
		return fmt.Errorf("failed to store artifact '%s': %w", key, putErr)
	}

	link, signErr := p.artifacts.Sign(key, p.opts.LinkTTL)
	if signErr != nil {
		return fmt.Errorf("failed to sign artifact link '%s': %w", key, signErr)
	}

	exec.link = link
	exec.state = StateNotifying

	return nil
}

func (p *Pipeline) notify(ctx context.Context, exec *execution) error {
	err := p.withRetry(ctx, func() error {
		return p.notifier.Send(ctx, exec.item.Subscriber, exec.link)
	})
	if err != nil {
		return fmt.Errorf("failed to notify subscriber: %w", err)
	}

	metrics.NotificationsSent.Inc()

	exec.state = StateDone

	return nil
}

// adaptiveBackOff waits the base delay between attempts, stretched when the
// previous failure was a rate limit.
type adaptiveBackOff struct {
	base        time.Duration
	rateLimited time.Duration
	next        time.Duration
}

func (b *adaptiveBackOff) NextBackOff() time.Duration { return b.next }

func (b *adaptiveBackOff) Reset() { b.next = b.base }

// withRetry runs op up to the configured attempt count. Malformed model
// output is permanent here: the composer already re-prompted.
func (p *Pipeline) withRetry(ctx context.Context, op func() error) error {
	delays := &adaptiveBackOff{
		base:        p.opts.RetryDelay,
		rateLimited: p.opts.RateLimitDelay,
	}
	delays.Reset()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(delays, uint64(p.opts.RetryAttempts-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		opErr := op()
		if opErr == nil {
			return nil
		}

		if errors.Is(opErr, core.ErrMalformedModelOutput) || errors.Is(opErr, core.ErrNoHistory) {
			return backoff.Permanent(opErr)
		}

		if errors.Is(opErr, core.ErrRateLimited) {
			delays.next = delays.rateLimited
		} else {
			delays.next = delays.base
		}

		return opErr
	}, policy)
	if err != nil {
		return err
	}

	return nil
}
