// Package compose turns feeling history and reference text into narrative
// prose through a completion model, with strict output validation.
package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/reflection-service/internal/core"
)

// Every narrative opens its two sections with these exact sentences. The
// prompt demands them and the validator enforces them, so downstream stages
// never see free-form model commentary.
const (
	LeadReflection = "Here is a reflection for your day."
	LeadPrayer     = "Now, let us pray."
)

const defaultAttempts = 3

// Composer drives the two completion stages of the pipeline. Malformed model
// output is retried with the same prompt up to the attempt limit; transport
// errors are returned to the caller immediately.
type Composer struct {
	completer core.Completer
	log       *logger.Logger
	attempts  int
}

// New creates a composer over the given completion capability.
func New(completer core.Completer, attempts int, log *logger.Logger) *Composer {
	if attempts <= 0 {
		attempts = defaultAttempts
	}

	return &Composer{
		completer: completer,
		log:       log,
		attempts:  attempts,
	}
}

// SummarizePersonality distills a feeling history into trait/explanation
// pairs. Entries must be in chronological order; the most recent entry is
// held out of the summary and addressed directly by ComposeNarrative.
func (c *Composer) SummarizePersonality(
	ctx context.Context,
	entries []core.FeelingEntry,
) (core.PersonalityDigest, error) {
	if len(entries) == 0 {
		return nil, core.ErrNoHistory
	}

	prompt := buildSummaryPrompt(entries)

	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		raw, err := c.completer.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("personality summary completion failed: %w", err)
		}

		digest, parseErr := ParseDigest(raw)
		if parseErr == nil {
			return digest, nil
		}

		lastErr = parseErr

		c.log.Warn(
			"Personality summary attempt %d/%d not parseable: %v",
			attempt, c.attempts, parseErr,
		)
	}

	return nil, fmt.Errorf("personality summary exhausted %d attempts: %w", c.attempts, lastErr)
}

// ComposeNarrative writes the reflection and prayer text for one subscriber.
// referenceText may be empty; the prompt then omits the grounding passage
// rather than failing the run.
func (c *Composer) ComposeNarrative(
	ctx context.Context,
	digest core.PersonalityDigest,
	referenceText string,
	mostRecentFeeling string,
) (core.Narrative, error) {
	prompt := buildNarrativePrompt(digest, referenceText, mostRecentFeeling)

	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		raw, err := c.completer.Complete(ctx, prompt)
		if err != nil {
			return core.Narrative{}, fmt.Errorf("narrative completion failed: %w", err)
		}

		text, normalizeErr := normalizeNarrative(raw)
		if normalizeErr == nil {
			return core.Narrative{Text: text}, nil
		}

		lastErr = normalizeErr

		c.log.Warn(
			"Narrative attempt %d/%d not usable: %v",
			attempt, c.attempts, normalizeErr,
		)
	}

	return core.Narrative{}, fmt.Errorf("narrative exhausted %d attempts: %w", c.attempts, lastErr)
}

// normalizeNarrative trims any model preamble before the first lead sentence
// and verifies both leads are present in order.
func normalizeNarrative(raw string) (string, error) {
	start := strings.Index(raw, LeadReflection)
	if start < 0 {
		return "", fmt.Errorf(
			"%w: missing lead sentence %q", core.ErrMalformedModelOutput, LeadReflection,
		)
	}

	text := strings.TrimSpace(raw[start:])

	prayerAt := strings.Index(text, LeadPrayer)
	if prayerAt <= 0 {
		return "", fmt.Errorf(
			"%w: missing lead sentence %q", core.ErrMalformedModelOutput, LeadPrayer,
		)
	}

	return text, nil
}

func buildSummaryPrompt(entries []core.FeelingEntry) string {
	var builder strings.Builder

	builder.WriteString("You are given journal entries a person wrote about how they felt, ")
	builder.WriteString("oldest first.\n\n")

	for _, entry := range entries {
		builder.WriteString("- ")
		builder.WriteString(entry.Timestamp.Format("2006-01-02"))
		builder.WriteString(": ")
		builder.WriteString(entry.Feeling)
		builder.WriteString("\n")
	}

	builder.WriteString("\nDescribe this person's personality and emotional patterns. ")
	builder.WriteString("Respond with a single JSON object mapping each trait name to a ")
	builder.WriteString("one-sentence explanation grounded in the entries. ")
	builder.WriteString("Respond with the JSON object only, no other text.")

	return builder.String()
}

func buildNarrativePrompt(
	digest core.PersonalityDigest,
	referenceText string,
	mostRecentFeeling string,
) string {
	traits := make([]string, 0, len(digest))
	for trait := range digest {
		traits = append(traits, trait)
	}

	sort.Strings(traits)

	var builder strings.Builder

	builder.WriteString("Write a short spoken reflection and prayer for one listener.\n\n")
	builder.WriteString("What you know about them:\n")

	for _, trait := range traits {
		builder.WriteString("- ")
		builder.WriteString(trait)
		builder.WriteString(": ")
		builder.WriteString(digest[trait])
		builder.WriteString("\n")
	}

	if mostRecentFeeling != "" {
		builder.WriteString("\nMost recently they said they felt: ")
		builder.WriteString(mostRecentFeeling)
		builder.WriteString("\n")
	}

	if referenceText != "" {
		builder.WriteString("\nWeave in this passage where it fits naturally:\n")
		builder.WriteString(referenceText)
		builder.WriteString("\n")
	}

	builder.WriteString("\nThe response must be two paragraphs. The first paragraph must ")
	builder.WriteString("begin with the exact sentence \"")
	builder.WriteString(LeadReflection)
	builder.WriteString("\" and speak to their current state. The second paragraph must ")
	builder.WriteString("begin with the exact sentence \"")
	builder.WriteString(LeadPrayer)
	builder.WriteString("\" and offer a short prayer. ")
	builder.WriteString("Write nothing before the first sentence and nothing after the prayer.")

	return builder.String()
}
