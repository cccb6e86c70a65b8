// Package speech_test tests the ElevenLabs synthesis client.
package speech_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/reflection-service/internal/audio"
	"github.com/book-expert/reflection-service/internal/speech"
)

func testPersona() speech.Persona {
	return speech.Persona{
		VoiceID:         "voice-123",
		ModelID:         "eleven_multilingual_v2",
		Stability:       0.6,
		SimilarityBoost: 0.8,
		Style:           0.2,
	}
}

func TestSynthesize_ReturnsDecodedTrack(t *testing.T) {
	t.Parallel()

	pcm := audio.EncodePCM(audio.Track{
		SampleRate: audio.DefaultSampleRate,
		Channels:   1,
		Samples:    []int16{1, -1, 2, -2},
	})

	var gotPath, gotFormat string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a spoken reflection", payload["text"])
		assert.Equal(t, "eleven_multilingual_v2", payload["model_id"])

		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)

	client, err := speech.New(srv.URL, "api-key", testPersona(), time.Second)
	require.NoError(t, err)

	track, err := client.Synthesize(context.Background(), "a spoken reflection")
	require.NoError(t, err)

	assert.Equal(t, "/v1/text-to-speech/voice-123", gotPath)
	assert.Equal(t, "pcm_44100", gotFormat)
	assert.Equal(t, []int16{1, -1, 2, -2}, track.Samples)
	assert.Equal(t, audio.DefaultSampleRate, track.SampleRate)
	assert.Equal(t, 1, track.Channels)
}

func TestSynthesize_ErrorStatusSurfaced(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := speech.New(srv.URL, "api-key", testPersona(), time.Second)
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestSynthesize_EmptyBodyIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	t.Cleanup(srv.Close)

	client, err := speech.New(srv.URL, "api-key", testPersona(), time.Second)
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "text")
	require.ErrorIs(t, err, speech.ErrReceivedEmptyAudio)
}

func TestSynthesize_RejectsEmptyText(t *testing.T) {
	t.Parallel()

	client, err := speech.New("http://127.0.0.1:0", "api-key", testPersona(), time.Second)
	require.NoError(t, err)

	_, err = client.Synthesize(context.Background(), "")
	require.ErrorIs(t, err, speech.ErrTextEmpty)
}

func TestNew_RequiresVoice(t *testing.T) {
	t.Parallel()

	_, err := speech.New("http://127.0.0.1:0", "api-key", speech.Persona{}, time.Second)
	require.ErrorIs(t, err, speech.ErrVoiceEmpty)
}
