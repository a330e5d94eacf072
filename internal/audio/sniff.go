package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/dhowden/tag"
)

// Container formats recognized by Sniff
const (
	FormatWAV     = "wav"
	FormatMP3     = "mp3"
	FormatM4A     = "m4a"
	FormatFLAC    = "flac"
	FormatOGG     = "ogg"
	FormatUnknown = "unknown"
)

// Sniff identifies the container of an audio stream from its content. It
// never fails on unrecognized content; it reports FormatUnknown instead.
func Sniff(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	head = head[:n]

	if isWAVHeader(head) {
		return FormatWAV, nil
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if _, fileType, err := tag.Identify(r); err == nil {
		switch fileType {
		case tag.MP3:
			return FormatMP3, nil
		case tag.M4A, tag.M4B, tag.M4P, tag.ALAC:
			return FormatM4A, nil
		case tag.FLAC:
			return FormatFLAC, nil
		case tag.OGG:
			return FormatOGG, nil
		}
	}

	// Raw MPEG audio without an ID3 tag starts with a frame sync word.
	if len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return FormatMP3, nil
	}

	return FormatUnknown, nil
}

// SniffFile identifies the container of the file at path
func SniffFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Sniff(f)
}
