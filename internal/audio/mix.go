package audio

import (
	"fmt"
	"math"
)

// Mix overlays a spoken track with a backing bed. The bed is repeated
// end-to-end until it is at least as long as the spoken track, trimmed to
// exactly the spoken length, and then summed sample-wise onto the spoken
// track with clamping. The result always has the spoken track's duration,
// whatever the bed's length.
//
// Mix is pure: same inputs, same output.
func Mix(spoken, bed Track) (Track, error) {
	spokenErr := spoken.Validate()
	if spokenErr != nil {
		return Track{}, fmt.Errorf("invalid spoken track: %w", spokenErr)
	}

	bedErr := bed.Validate()
	if bedErr != nil {
		return Track{}, fmt.Errorf("invalid bed track: %w", bedErr)
	}

	if spoken.SampleRate != bed.SampleRate || spoken.Channels != bed.Channels {
		return Track{}, fmt.Errorf(
			"%w: spoken %dHz/%dch, bed %dHz/%dch",
			ErrFormatMismatch,
			spoken.SampleRate, spoken.Channels,
			bed.SampleRate, bed.Channels,
		)
	}

	mixed := Track{
		SampleRate: spoken.SampleRate,
		Channels:   spoken.Channels,
		Samples:    make([]int16, len(spoken.Samples)),
	}

	for i, sample := range spoken.Samples {
		// Loop the bed by indexing modulo its length. Equivalent to
		// concatenating ceil(Ds/Db) copies and trimming to Ds.
		bedSample := bed.Samples[i%len(bed.Samples)]
		mixed.Samples[i] = clampSum(sample, bedSample)
	}

	return mixed, nil
}

func clampSum(a, b int16) int16 {
	sum := int32(a) + int32(b)

	if sum > math.MaxInt16 {
		return math.MaxInt16
	}

	if sum < math.MinInt16 {
		return math.MinInt16
	}

	return int16(sum)
}
