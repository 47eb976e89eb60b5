package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Video is one entry of the session's playlist. Name is the base name and
// doubles as the annotation record name.
type Video struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".wmv":  true,
	".mov":  true,
	".mkv":  true,
	".ogg":  true,
	".ogm":  true,
	".webm": true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ScanVideos lists the video files directly inside dir, sorted by path.
func ScanVideos(dir string) ([]Video, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read videos dir: %w", err)
	}

	var videos []Video
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsVideoFile(e.Name()) {
			continue
		}
		videos = append(videos, Video{Name: e.Name(), Path: filepath.Join(abs, e.Name())})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Path < videos[j].Path })
	return videos, nil
}
