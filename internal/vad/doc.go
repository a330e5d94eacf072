// Package vad measures voice activity in reference recordings.
// It splits audio into fixed windows, classifies each one by RMS energy
// against a threshold and reports the speech ratio and voiced segments.
package vad
