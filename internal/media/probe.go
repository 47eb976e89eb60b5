package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

// Probe reads the geometry, rate and length of the first video stream.
func (m *FFmpeg) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	var stdout bytes.Buffer
	stderr := &limitedWriter{w: &bytes.Buffer{}, limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, &ProcessError{Binary: "ffprobe", ExitCode: exitCode(err), StderrTail: stderr.String()}
	}

	info, err := parseProbe(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", m.safePath(path), err)
	}
	m.cfg.Logger.Debug("probed video", "path", m.safePath(path),
		"width", info.Width, "height", info.Height, "fps", info.FPS, "frames", info.Frames)
	return info, nil
}

func parseProbe(data []byte) (*StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("unknown frame rate")
	}

	info := &StreamInfo{Width: s.Width, Height: s.Height, FPS: fps}

	seconds := parseSeconds(s.Duration)
	if seconds <= 0 {
		seconds = parseSeconds(out.Format.Duration)
	}
	if seconds > 0 {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.Frames = n
	} else if seconds > 0 {
		info.Frames = int(math.Round(seconds * fps))
	}
	return info, nil
}

// parseRate reads ffprobe's "num/den" rationals.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func formatRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
