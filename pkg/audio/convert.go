package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	soxr "github.com/zaf/resample"
)

// pcmScale maps signed 16-bit PCM onto [-1.0, 1.0).
const pcmScale = 32768.0

// Int16ToFloat32 rescales 16-bit samples to float32 by dividing by 32768, so
// the result lies in [-1.0, 1.0).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / pcmScale
	}
	return out
}

// MeanAbs returns the mean absolute sample value. It returns 0 for an empty
// slice.
func MeanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// PCMToInt16 decodes little-endian 16-bit PCM bytes. A trailing odd byte is
// ignored.
func PCMToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToPCM encodes samples as little-endian 16-bit PCM bytes.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DownmixInt16 averages interleaved multi-channel samples into mono. Uses
// int32 arithmetic to prevent overflow. channels <= 1 returns the input
// unchanged.
func DownmixInt16(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(samples[i*channels+c])
		}
		out[i] = clamp16(sum / int32(channels))
	}
	return out
}

// ResampleInt16 resamples mono samples from srcRate to dstRate with soxr at
// high quality. The result is trimmed or zero-padded to exactly
// len(samples)*dstRate/srcRate samples. Matching or invalid rates return the
// input unchanged.
func ResampleInt16(samples []int16, srcRate, dstRate int) ([]int16, error) {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))

	var out bytes.Buffer
	r, err := soxr.New(&out, float64(srcRate), float64(dstRate), 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	if _, err := r.Write(Int16ToPCM(samples)); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	// Close flushes the filter tail into out.
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("audio: flush resampler: %w", err)
	}

	res := PCMToInt16(out.Bytes())
	if len(res) >= dstLen {
		return res[:dstLen], nil
	}
	return append(res, make([]int16, dstLen-len(res))...), nil
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Float32ToInt16 converts normalised samples back to 16-bit PCM, clamping
// values outside [-1.0, 1.0).
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clamp16(int32(math.Round(float64(s) * pcmScale)))
	}
	return out
}
