// Package audio provides stateless sample-format conversions for feeding
// the recognition service: float/int16 PCM conversion, resampling, stereo
// mixdown, and decibel helpers.
package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToInt16 converts one sample in [-1, 1] to signed 16-bit PCM,
// clamping out-of-range input. The scale is asymmetric so that 1.0 maps to
// 32767 and -1.0 to -32768.
func Float32ToInt16(sample float32) int16 {
	switch {
	case sample >= 1.0:
		return math.MaxInt16
	case sample <= -1.0:
		return math.MinInt16
	case sample < 0:
		return int16(sample * 32768)
	default:
		return int16(sample * 32767)
	}
}

// Int16ToFloat32 converts one signed 16-bit PCM sample to [-1, 1].
func Int16ToFloat32(sample int16) float32 {
	if sample < 0 {
		return float32(sample) / 32768
	}
	return float32(sample) / 32767
}

// Float32ToPCM16 packs float samples into little-endian 16-bit PCM bytes.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, sample := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(Float32ToInt16(sample)))
	}
	return out
}

// PCM16ToFloat32 unpacks little-endian 16-bit PCM bytes into float samples.
// A trailing odd byte is ignored.
func PCM16ToFloat32(data []byte) []float32 {
	out := make([]float32, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		out = append(out, Int16ToFloat32(int16(binary.LittleEndian.Uint16(data[i:]))))
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation. Same-rate input is returned unchanged.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Floor(float64(len(samples)) / ratio))
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// DownmixStereo averages interleaved stereo samples into mono. A trailing
// unpaired sample is dropped.
func DownmixStereo(samples []float32) []float32 {
	out := make([]float32, 0, len(samples)/2)
	for i := 0; i+1 < len(samples); i += 2 {
		out = append(out, (samples[i]+samples[i+1])/2)
	}
	return out
}

// DbToLinear converts a decibel value to a linear amplitude factor.
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDb converts a linear amplitude factor to decibels.
// LinearToDb(0) is negative infinity.
func LinearToDb(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}
