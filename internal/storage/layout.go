package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jo-hoe/mediascribe/internal/common"
)

// Layout derives every on-disk path from the storage root and a job id.
//
//	<root>/audio/<id><ext>        uploaded audio
//	<root>/video/<id><ext>        uploaded video
//	<root>/audio/temp/<id><ext>   audio extracted from a video, removed after use
//	<root>/transcripts/<id>.json  transcript artifact
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// Ensure creates all directories of the layout.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.AudioDir(), l.VideoDir(), l.TempDir(), l.TranscriptsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) AudioDir() string       { return filepath.Join(l.Root, common.AudioDirName) }
func (l Layout) VideoDir() string       { return filepath.Join(l.Root, common.VideoDirName) }
func (l Layout) TempDir() string        { return filepath.Join(l.AudioDir(), common.TempDirName) }
func (l Layout) TranscriptsDir() string { return filepath.Join(l.Root, common.TranscriptsDirName) }

func (l Layout) AudioPath(id, ext string) string {
	return filepath.Join(l.AudioDir(), id+ext)
}

func (l Layout) VideoPath(id, ext string) string {
	return filepath.Join(l.VideoDir(), id+ext)
}

// TempAudioPath is where the audio track of video job id is extracted to.
func (l Layout) TempAudioPath(id, ext string) string {
	return filepath.Join(l.TempDir(), id+ext)
}

func (l Layout) TranscriptPath(id string) string {
	return filepath.Join(l.TranscriptsDir(), id+".json")
}
