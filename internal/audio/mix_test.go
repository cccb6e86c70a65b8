// Package audio_test tests the PCM mixing and codec helpers.
package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/audio"
)

func monoTrack(samples ...int16) audio.Track {
	return audio.Track{
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
		Samples:    samples,
	}
}

func constantTrack(value int16, frames int) audio.Track {
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = value
	}

	return monoTrack(samples...)
}

func TestMix_ShortBedLoopsAndTrims(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(100, 100, 100, 100, 100, 100, 100)
	bed := monoTrack(1, 2, 3)

	mixed, err := audio.Mix(spoken, bed)
	require.NoError(t, err)

	// Bed repeats 1,2,3,1,2,3,1 under the seven spoken samples.
	assert.Equal(t, []int16{101, 102, 103, 101, 102, 103, 101}, mixed.Samples)
}

func TestMix_LongBedTrimsFromStart(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(10, 10)
	bed := monoTrack(5, 6, 7, 8, 9)

	mixed, err := audio.Mix(spoken, bed)
	require.NoError(t, err)

	assert.Equal(t, []int16{15, 16}, mixed.Samples)
}

func TestMix_OutputDurationMatchesSpokenForAnyBed(t *testing.T) {
	t.Parallel()

	spoken := constantTrack(50, 3*audio.DefaultSampleRate) // three seconds

	for _, bedFrames := range []int{1, 10, audio.DefaultSampleRate / 2, 3 * audio.DefaultSampleRate, 10 * audio.DefaultSampleRate} {
		bed := constantTrack(10, bedFrames)

		mixed, err := audio.Mix(spoken, bed)
		require.NoError(t, err)

		assert.Equal(t, spoken.Duration(), mixed.Duration(),
			"duration must be invariant to bed length %d", bedFrames)
		assert.Equal(t, 3*time.Second, mixed.Duration())
	}
}

func TestMix_SumClampsAtInt16Bounds(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(math.MaxInt16, math.MinInt16)
	bed := monoTrack(1000, -1000)

	mixed, err := audio.Mix(spoken, bed)
	require.NoError(t, err)

	assert.Equal(t, []int16{math.MaxInt16, math.MinInt16}, mixed.Samples)
}

func TestMix_RejectsMismatchedFormats(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(1, 2, 3)
	bed := audio.Track{SampleRate: 22050, Channels: 1, Samples: []int16{1}}

	_, err := audio.Mix(spoken, bed)
	require.ErrorIs(t, err, audio.ErrFormatMismatch)
}

func TestMix_RejectsEmptyTracks(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(1)

	_, err := audio.Mix(spoken, audio.Track{SampleRate: audio.DefaultSampleRate, Channels: 1})
	require.ErrorIs(t, err, audio.ErrEmptyTrack)

	_, err = audio.Mix(audio.Track{SampleRate: audio.DefaultSampleRate, Channels: 1}, spoken)
	require.ErrorIs(t, err, audio.ErrEmptyTrack)
}

func TestMix_IsDeterministic(t *testing.T) {
	t.Parallel()

	spoken := monoTrack(7, -3, 12000, -12000, 0, 42)
	bed := monoTrack(3, 3, 3, 3)

	first, err := audio.Mix(spoken, bed)
	require.NoError(t, err)

	second, err := audio.Mix(spoken, bed)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTrack_Duration(t *testing.T) {
	t.Parallel()

	track := constantTrack(0, audio.DefaultSampleRate/2)
	assert.Equal(t, 500*time.Millisecond, track.Duration())

	stereo := audio.Track{
		SampleRate: 8000,
		Channels:   2,
		Samples:    make([]int16, 16000),
	}
	assert.Equal(t, time.Second, stereo.Duration())
}
