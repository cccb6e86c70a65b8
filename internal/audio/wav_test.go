package audio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/audio"
)

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	original := audio.Track{
		SampleRate: 22050,
		Channels:   2,
		Samples:    []int16{0, 1, -1, 32767, -32768, 12345, -12345, 7},
	}

	encoded, err := audio.EncodeWAV(original)
	require.NoError(t, err)

	decoded, err := audio.DecodeWAV(encoded)
	require.NoError(t, err)

	assert.Equal(t, original, decoded)
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV([]byte("definitely not audio data at all..."))
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestDecodeWAV_RejectsTruncatedData(t *testing.T) {
	t.Parallel()

	encoded, err := audio.EncodeWAV(audio.Track{
		SampleRate: 8000,
		Channels:   1,
		Samples:    []int16{1, 2, 3, 4},
	})
	require.NoError(t, err)

	_, err = audio.DecodeWAV(encoded[:len(encoded)-3])
	require.ErrorIs(t, err, audio.ErrTruncatedWAV)
}

func TestEncodeWAV_RejectsInvalidTrack(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(audio.Track{SampleRate: 44100, Channels: 1})
	require.ErrorIs(t, err, audio.ErrEmptyTrack)
}

func TestPCM_RoundTrip(t *testing.T) {
	t.Parallel()

	original := audio.Track{
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
		Samples:    []int16{-5, 0, 5, 30000},
	}

	raw := audio.EncodePCM(original)

	decoded, err := audio.DecodePCM(raw, audio.DefaultSampleRate, 1)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodePCM_RejectsOddByteCount(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodePCM([]byte{0x01, 0x02, 0x03}, audio.DefaultSampleRate, 1)
	require.ErrorIs(t, err, audio.ErrMisalignedSamples)
}
