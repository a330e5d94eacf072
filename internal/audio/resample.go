package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

const maxInt16 = 32767

// Downmix averages interleaved channels into a single channel
func Downmix(pcm *PCM) *PCM {
	if pcm.Channels == 1 {
		return pcm
	}

	frames := pcm.Frames()
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < pcm.Channels; c++ {
			sum += pcm.Samples[i*pcm.Channels+c]
		}
		mono[i] = sum / pcm.Channels
	}

	return &PCM{Samples: mono, SampleRate: pcm.SampleRate, Channels: 1}
}

// Resample converts mono pcm to the target sample rate
func Resample(pcm *PCM, sampleRate int) (*PCM, error) {
	if pcm.Channels != 1 {
		return nil, fmt.Errorf("resampling expects mono audio, got %d channels", pcm.Channels)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if pcm.SampleRate == sampleRate || len(pcm.Samples) == 0 {
		return &PCM{Samples: pcm.Samples, SampleRate: sampleRate, Channels: 1}, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(pcm.SampleRate),
		OutputRate: float64(sampleRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(pcm.Samples))
	for i, s := range pcm.Samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	// The filter delay stays in the resampler until flushed.
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	output = append(output, tail...)

	// Trim or zero-pad to exactly the input duration at the new rate.
	samples := make([]int, ResampledLength(len(pcm.Samples), pcm.SampleRate, sampleRate))
	for i := range samples {
		if i >= len(output) {
			break
		}
		samples[i] = clamp16(int(math.Round(output[i] * maxInt16)))
	}

	return &PCM{Samples: samples, SampleRate: sampleRate, Channels: 1}, nil
}

// ResampledLength returns the number of frames that frames at fromRate
// occupy at toRate
func ResampledLength(frames, fromRate, toRate int) int {
	return int(math.Round(float64(frames) * float64(toRate) / float64(fromRate)))
}

// Peak returns the largest absolute sample value
func Peak(samples []int) int {
	peak := 0
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// NormalizePeak scales samples in place so the peak sits headroomDB below
// full scale and returns the applied gain. Silent input is left untouched.
func NormalizePeak(samples []int, headroomDB float64) float64 {
	peak := Peak(samples)
	if peak == 0 {
		return 1
	}

	target := maxInt16 * math.Pow(10, -headroomDB/20)
	gain := target / float64(peak)

	for i, s := range samples {
		samples[i] = clamp16(int(math.Round(float64(s) * gain)))
	}
	return gain
}

func clamp16(v int) int {
	if v > maxInt16 {
		return maxInt16
	}
	if v < -maxInt16-1 {
		return -maxInt16 - 1
	}
	return v
}
