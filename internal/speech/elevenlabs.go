// Package speech provides the ElevenLabs speech synthesis client.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/reflection-service/internal/audio"
)

// API paths, headers, and the fixed output format. pcm_44100 yields raw
// 16-bit mono little-endian samples, which feed the mixer directly.
const (
	apiTextToSpeech   = "/v1/text-to-speech/%s"
	queryOutputFormat = "output_format=pcm_44100"
	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

const defaultTimeout = 120 * time.Second

var (
	// ErrTextEmpty indicates an empty narrative.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceEmpty indicates a synthesizer constructed without a voice.
	ErrVoiceEmpty = errors.New("voice ID cannot be empty")
	// ErrReceivedEmptyAudio indicates a success response with no audio data.
	ErrReceivedEmptyAudio = errors.New("received empty audio data")
)

// Persona is the fixed voice and delivery style for every synthesis call.
// The pipeline never varies these per run.
type Persona struct {
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
}

// Client implements core.SpeechSynthesizer against the ElevenLabs API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	persona    Persona
}

// New creates a synthesis client with a fixed persona.
func New(baseURL, apiKey string, persona Persona, timeout time.Duration) (*Client, error) {
	if persona.VoiceID == "" {
		return nil, ErrVoiceEmpty
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		persona:    persona,
	}, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize converts text into one contiguous mono PCM track.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Track, error) {
	if text == "" {
		return audio.Track{}, ErrTextEmpty
	}

	requestBody, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: c.persona.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.persona.Stability,
			SimilarityBoost: c.persona.SimilarityBoost,
			Style:           c.persona.Style,
		},
	})
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := c.baseURL + fmt.Sprintf(apiTextToSpeech, c.persona.VoiceID) + "?" + queryOutputFormat

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to send synthesis request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return audio.Track{}, fmt.Errorf(
			"synthesis request failed with status %s: %s",
			resp.Status, string(body),
		)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to read synthesis response: %w", err)
	}

	if len(pcm) == 0 {
		return audio.Track{}, ErrReceivedEmptyAudio
	}

	track, err := audio.DecodePCM(pcm, audio.DefaultSampleRate, audio.DefaultChannels)
	if err != nil {
		return audio.Track{}, fmt.Errorf("failed to decode synthesized audio: %w", err)
	}

	return track, nil
}
