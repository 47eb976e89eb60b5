package export

// EDLRequest asks for one record's pairs as an edit decision list.
type EDLRequest struct {
	Record    string  `json:"record"`
	Title     string  `json:"title,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	OutputDir string  `json:"output_dir"`
}

// ResolvedClip is one event of the list. Frames are inclusive.
type ResolvedClip struct {
	ClipName   string
	MediaPath  string
	StartFrame int
	EndFrame   int
}

// Frames is the event's length.
func (c ResolvedClip) Frames() int {
	return c.EndFrame - c.StartFrame + 1
}

type ExportResponse struct {
	Status        string `json:"status"`
	Format        string `json:"format"`
	OutputPath    string `json:"output_path"`
	ClipCount     int    `json:"clip_count"`
	InvertedPairs []int  `json:"inverted_pairs"`
}
