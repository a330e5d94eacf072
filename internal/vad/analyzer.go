package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const fullScale = 32768.0

// Analyzer classifies fixed-size windows of 16-bit audio as speech or silence
type Analyzer struct {
	threshold  float32 // RMS relative to full scale
	windowSize int     // samples per window

	// Statistics
	analyses      uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Segment is a continuous run of voiced windows
type Segment struct {
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Duration time.Duration `json:"duration"`
	Energy   float32       `json:"energy"` // mean RMS of the segment
}

// Result summarizes the voice activity of one recording
type Result struct {
	Windows       int           `json:"windows"`
	SpeechWindows int           `json:"speech_windows"`
	SpeechRatio   float64       `json:"speech_ratio"`
	Speech        time.Duration `json:"speech"`
	PeakEnergy    float32       `json:"peak_energy"`
	Segments      []Segment     `json:"segments"`
}

// HasSpeech reports whether any window was voiced
func (r *Result) HasSpeech() bool {
	return r.SpeechWindows > 0
}

// AnalyzerStats represents analyzer statistics
type AnalyzerStats struct {
	Analyses        uint64    `json:"analyses"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
	WindowSize      int       `json:"window_size"`
}

// NewAnalyzer creates a new analyzer
func NewAnalyzer(threshold float32, windowSize int) (*Analyzer, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Analyzer{
		threshold:  threshold,
		windowSize: windowSize,
	}, nil
}

// Analyze classifies mono samples recorded at sampleRate. A trailing partial
// window counts when it holds at least half a window of samples.
func (a *Analyzer) Analyze(samples []int, sampleRate int) (*Result, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	result := &Result{Segments: make([]Segment, 0)}
	windowDuration := time.Duration(a.windowSize) * time.Second / time.Duration(sampleRate)

	var current *Segment
	var currentWindows int

	closeSegment := func(end time.Duration) {
		current.End = end
		current.Duration = end - current.Start
		current.Energy /= float32(currentWindows)
		result.Segments = append(result.Segments, *current)
		current = nil
		currentWindows = 0
	}

	for start := 0; start < len(samples); start += a.windowSize {
		end := start + a.windowSize
		if end > len(samples) {
			end = len(samples)
			if end-start < a.windowSize/2 {
				break
			}
		}

		energy := RMS(samples[start:end])
		offset := time.Duration(start) * time.Second / time.Duration(sampleRate)
		result.Windows++

		if energy > result.PeakEnergy {
			result.PeakEnergy = energy
		}

		if energy >= a.threshold {
			result.SpeechWindows++
			if current == nil {
				current = &Segment{Start: offset}
			}
			current.Energy += energy
			currentWindows++
		} else if current != nil {
			closeSegment(offset)
		}
	}

	if current != nil {
		closeSegment(time.Duration(len(samples)) * time.Second / time.Duration(sampleRate))
	}

	if result.Windows > 0 {
		result.SpeechRatio = float64(result.SpeechWindows) / float64(result.Windows)
	}
	result.Speech = time.Duration(result.SpeechWindows) * windowDuration

	a.mu.Lock()
	a.analyses++
	a.totalWindows += uint64(result.Windows)
	a.voiceWindows += uint64(result.SpeechWindows)
	a.lastProcessed = time.Now()
	a.mu.Unlock()

	return result, nil
}

// RMS returns the root mean square of samples relative to 16-bit full scale
func RMS(samples []int) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}

	return float32(math.Sqrt(energy/float64(len(samples))) / fullScale)
}

// GetStats returns current analyzer statistics
func (a *Analyzer) GetStats() AnalyzerStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	voicePercentage := float64(0)
	if a.totalWindows > 0 {
		voicePercentage = float64(a.voiceWindows) / float64(a.totalWindows) * 100
	}

	return AnalyzerStats{
		Analyses:        a.analyses,
		TotalWindows:    a.totalWindows,
		VoiceWindows:    a.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   a.lastProcessed,
		Threshold:       a.threshold,
		WindowSize:      a.windowSize,
	}
}

// Threshold returns the voice detection threshold
func (a *Analyzer) Threshold() float32 {
	return a.threshold
}

// WindowSize returns the window size in samples
func (a *Analyzer) WindowSize() int {
	return a.windowSize
}
