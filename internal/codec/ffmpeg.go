// Package codec exports mixed PCM tracks as compressed audio by calling the
// ffmpeg binary.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/book-expert/reflection-service/internal/audio"
)

const defaultBitrateKbps = 128

// FFmpegEncoder implements core.MP3Encoder by piping raw samples through
// ffmpeg. Mixing stays pure PCM; only the final export touches a codec.
type FFmpegEncoder struct {
	bitrateKbps int
	log         *logger.Logger
}

// NewFFmpegEncoder creates an encoder with the given output bitrate.
func NewFFmpegEncoder(bitrateKbps int, log *logger.Logger) *FFmpegEncoder {
	if bitrateKbps <= 0 {
		bitrateKbps = defaultBitrateKbps
	}

	return &FFmpegEncoder{
		bitrateKbps: bitrateKbps,
		log:         log,
	}
}

// EncodeMP3 renders the track as an MP3 stream.
func (e *FFmpegEncoder) EncodeMP3(ctx context.Context, track audio.Track) ([]byte, error) {
	validateErr := track.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("cannot encode invalid track: %w", validateErr)
	}

	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(track.SampleRate),
		"-ac", strconv.Itoa(track.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", e.bitrateKbps),
		"-f", "mp3",
		"pipe:1",
	}

	// #nosec G204 -- arguments are numeric track parameters, not user input
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdin = bytes.NewReader(audio.EncodePCM(track))

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, fmt.Errorf("ffmpeg execution failed: %w - output: %s", runErr, stderr.String())
	}

	e.log.Info("Encoded %s of audio to %d MP3 bytes", track.Duration(), stdout.Len())

	return stdout.Bytes(), nil
}
