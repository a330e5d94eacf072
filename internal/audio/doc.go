// Package audio handles decoding, normalization and encoding of voice recordings.
// It converts uploaded reference audio into mono 16 kHz peak-normalized WAV,
// and pads synthesized speech with trailing silence before encoding it for delivery.
package audio
