// Package export renders annotation pairs as a CMX3600 edit decision list.
package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-clipper/internal/annotation"
	"github.com/heimdex/heimdex-clipper/internal/persist"
)

const DefaultFrameRate = 30.0

// ClipsFromPairs turns a record's eligible pairs into EDL events.
func ClipsFromPairs(name, mediaPath string, pairs []annotation.Pair) []ResolvedClip {
	clips := make([]ResolvedClip, 0, len(pairs))
	for _, p := range pairs {
		clips = append(clips, ResolvedClip{
			ClipName:   SanitizeName(fmt.Sprintf("%s %d", name, p.Index), 160),
			MediaPath:  mediaPath,
			StartFrame: p.StartFrame,
			EndFrame:   p.EndFrame,
		})
	}
	return clips
}

// GenerateEDL lays the clips end to end on the record timeline. Source out
// points are exclusive, so an inclusive pair s..e ends at e+1.
func GenerateEDL(clips []ResolvedClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	timecode := frameToTimecode
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
		timecode = dropFrameTimecode
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0
	for i, clip := range clips {
		length := clip.Frames()
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				timecode(clip.StartFrame, fps), timecode(clip.EndFrame+1, fps),
				timecode(record, fps), timecode(record+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", clip.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", clip.MediaPath),
		)
		record += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func frameToTimecode(frame int, fps int) string {
	frames := frame % fps
	totalSeconds := frame / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}

// dropFrameTimecode renders frame in SMPTE drop-frame notation for a nominal
// rate of 30 or 60. Labels 0 and 1 (0-3 at 60) are skipped at the start of
// every minute except each tenth one.
func dropFrameTimecode(frame int, fps int) string {
	drop := fps / 15
	perMinute := fps*60 - drop
	perTenMinutes := perMinute*10 + drop

	tens, rem := frame/perTenMinutes, frame%perTenMinutes
	label := frame + 9*drop*tens
	if rem > drop {
		label += drop * ((rem - drop) / perMinute)
	}

	tc := frameToTimecode(label, fps)
	return tc[:8] + ";" + tc[9:]
}

// WriteEDL writes content to {dir}/{title}.edl, replacing any previous list.
// dir must pass ValidateOutputDir.
func WriteEDL(dir, title, content string) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	name := SanitizeName(title, 120)
	if name == "" {
		name = "clipper_export"
	}
	name += ".edl"
	if err := persist.WriteFileAtomic(dir, name, []byte(content)); err != nil {
		return "", fmt.Errorf("failed to write edl: %w", err)
	}
	return filepath.Join(dir, name), nil
}
