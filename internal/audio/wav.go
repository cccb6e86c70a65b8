package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV container constants for 16-bit PCM.
const (
	wavHeaderSize    = 44
	wavFormatPCM     = 1
	wavBitsPerSample = 16
	bytesPerSample   = 2
)

var (
	// ErrNotWAV indicates data that does not carry a RIFF/WAVE header.
	ErrNotWAV = errors.New("data is not a RIFF/WAVE stream")
	// ErrUnsupportedWAV indicates a WAV encoding other than 16-bit PCM.
	ErrUnsupportedWAV = errors.New("only 16-bit PCM WAV is supported")
	// ErrTruncatedWAV indicates a WAV stream shorter than its declared size.
	ErrTruncatedWAV = errors.New("truncated WAV data")
)

// DecodeWAV parses a 16-bit PCM WAV stream into a Track. Only the canonical
// fmt and data chunks are honored; other chunks are skipped.
func DecodeWAV(data []byte) (Track, error) {
	if len(data) < wavHeaderSize ||
		!bytes.Equal(data[0:4], []byte("RIFF")) ||
		!bytes.Equal(data[8:12], []byte("WAVE")) {
		return Track{}, ErrNotWAV
	}

	var track Track

	haveFormat := false
	offset := 12

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		if body+chunkSize > len(data) {
			return Track{}, ErrTruncatedWAV
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Track{}, ErrTruncatedWAV
			}

			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			sampleRate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])

			if format != wavFormatPCM || bits != wavBitsPerSample {
				return Track{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedWAV, format, bits)
			}

			track.Channels = int(channels)
			track.SampleRate = int(sampleRate)
			haveFormat = true
		case "data":
			if !haveFormat {
				return Track{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}

			track.Samples = decodeSamples(data[body : body+chunkSize])
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	validateErr := track.Validate()
	if validateErr != nil {
		return Track{}, fmt.Errorf("decoded WAV is invalid: %w", validateErr)
	}

	return track, nil
}

// EncodeWAV renders a track as a canonical 16-bit PCM WAV stream.
func EncodeWAV(track Track) ([]byte, error) {
	validateErr := track.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("cannot encode invalid track: %w", validateErr)
	}

	dataSize := len(track.Samples) * bytesPerSample
	out := make([]byte, wavHeaderSize+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(wavHeaderSize-8+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], uint16(track.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(track.SampleRate))

	byteRate := track.SampleRate * track.Channels * bytesPerSample
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(track.Channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[34:36], wavBitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, sample := range track.Samples {
		binary.LittleEndian.PutUint16(
			out[wavHeaderSize+i*bytesPerSample:],
			uint16(sample),
		)
	}

	return out, nil
}

// DecodePCM wraps raw little-endian 16-bit PCM bytes into a Track.
func DecodePCM(data []byte, sampleRate, channels int) (Track, error) {
	if len(data)%bytesPerSample != 0 {
		return Track{}, fmt.Errorf("%w: odd byte count %d", ErrMisalignedSamples, len(data))
	}

	track := Track{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    decodeSamples(data),
	}

	validateErr := track.Validate()
	if validateErr != nil {
		return Track{}, fmt.Errorf("decoded PCM is invalid: %w", validateErr)
	}

	return track, nil
}

// EncodePCM renders the track's samples as raw little-endian bytes.
func EncodePCM(track Track) []byte {
	out := make([]byte, len(track.Samples)*bytesPerSample)
	for i, sample := range track.Samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(sample))
	}

	return out
}

func decodeSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*bytesPerSample:]))
	}

	return samples
}
