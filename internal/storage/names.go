package storage

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	stampLayout = "20060102_150405"
	idLength    = 12

	// ClipExt is the extension of delivered clips
	ClipExt = ".mp3"
)

var clipName = regexp.MustCompile(`^voice_clone_[0-9]{8}_[0-9]{6}_[0-9a-f]{12}\.mp3$`)

// Names is the group of file names used by one clone request. All of them
// share a single timestamp and random suffix.
type Names struct {
	ID        string `json:"id"`
	Stamp     string `json:"stamp"`
	Upload    string `json:"upload"`
	Converted string `json:"converted"`
	Synth     string `json:"synth"`
	Clip      string `json:"clip"`
}

// NewNames creates the name group for an upload with extension ext
// (including the dot, as returned by filepath.Ext).
func NewNames(now time.Time, ext string) Names {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:idLength]
	stamp := now.Format(stampLayout)
	base := stamp + "_" + id

	return Names{
		ID:        id,
		Stamp:     stamp,
		Upload:    "upload_" + base + strings.ToLower(ext),
		Converted: "converted_" + base + ".wav",
		Synth:     "synth_" + base + ".wav",
		Clip:      "voice_clone_" + base + ClipExt,
	}
}

// IsClipName reports whether name is a delivered clip name as produced by NewNames
func IsClipName(name string) bool {
	return clipName.MatchString(name)
}
