// Package audio provides PCM track handling and the deterministic mixing
// used to lay a spoken reflection over a backing bed.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// Default track parameters. The synthesizer is configured to emit the same
// format, so the mixer normally never has to reconcile mismatched tracks.
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 1
)

var (
	// ErrEmptyTrack indicates a track with no samples.
	ErrEmptyTrack = errors.New("track has no samples")
	// ErrZeroSampleRate indicates a track with a non-positive sample rate.
	ErrZeroSampleRate = errors.New("track sample rate must be positive")
	// ErrZeroChannels indicates a track with a non-positive channel count.
	ErrZeroChannels = errors.New("track channel count must be positive")
	// ErrFormatMismatch indicates two tracks that cannot be mixed because
	// their sample rates or channel counts differ.
	ErrFormatMismatch = errors.New("track formats do not match")
	// ErrMisalignedSamples indicates sample data that is not a whole number
	// of frames.
	ErrMisalignedSamples = errors.New("sample count is not a multiple of channels")
)

// Track is interleaved 16-bit PCM audio.
type Track struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Validate checks that the track is well-formed and non-empty.
func (t Track) Validate() error {
	if t.SampleRate <= 0 {
		return ErrZeroSampleRate
	}

	if t.Channels <= 0 {
		return ErrZeroChannels
	}

	if len(t.Samples) == 0 {
		return ErrEmptyTrack
	}

	if len(t.Samples)%t.Channels != 0 {
		return fmt.Errorf("%w: %d samples, %d channels", ErrMisalignedSamples, len(t.Samples), t.Channels)
	}

	return nil
}

// Frames returns the number of per-channel sample frames in the track.
func (t Track) Frames() int {
	if t.Channels <= 0 {
		return 0
	}

	return len(t.Samples) / t.Channels
}

// Duration returns the playing time of the track.
func (t Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}

	return time.Duration(t.Frames()) * time.Second / time.Duration(t.SampleRate)
}
