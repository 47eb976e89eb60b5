package playback

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const clip = 4096

	tests := []struct {
		name    string
		header  string
		size    int64
		want    *Range
		wantErr error
	}{
		{"no header", "", clip, nil, nil},
		{"whole clip", "bytes=0-4095", clip, &Range{0, 4095}, nil},
		{"open ended", "bytes=1024-", clip, &Range{1024, 4095}, nil},
		{"tail", "bytes=-96", clip, &Range{4000, 4095}, nil},
		{"first byte", "bytes=0-0", clip, &Range{0, 0}, nil},
		{"window", "bytes=512-1023", clip, &Range{512, 1023}, nil},
		{"end clamped", "bytes=4000-9000", clip, &Range{4000, 4095}, nil},
		{"tail longer than clip", "bytes=-10000", 300, &Range{0, 299}, nil},
		{"last byte", "bytes=4095-", clip, &Range{4095, 4095}, nil},
		{"first of several", "bytes=0-9, 20-29", clip, &Range{0, 9}, nil},
		{"padded", "bytes= 10-19", clip, &Range{10, 19}, nil},

		{"start at size", "bytes=4096-", clip, nil, ErrUnsatisfiable},
		{"past the end", "bytes=5000-6000", clip, nil, ErrUnsatisfiable},
		{"empty clip", "bytes=0-", 0, nil, ErrUnsatisfiable},
		{"end before start", "bytes=200-100", clip, nil, ErrUnsatisfiable},
		{"no unit", "0-100", clip, nil, ErrInvalidRange},
		{"other unit", "frames=0-100", clip, nil, ErrInvalidRange},
		{"alpha start", "bytes=x-100", clip, nil, ErrInvalidRange},
		{"alpha end", "bytes=0-y", clip, nil, ErrInvalidRange},
		{"zero tail", "bytes=-0", clip, nil, ErrInvalidRange},
		{"two dashes", "bytes=1-2-3", clip, nil, ErrInvalidRange},
		{"bare dash", "bytes=-", clip, nil, ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRange(tt.header, tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseRange(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseRange(%q) = %+v, want nil", tt.header, *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("ParseRange(%q) = %v, want %+v", tt.header, got, *tt.want)
			}
		})
	}
}

func TestRange_Headers(t *testing.T) {
	tests := []struct {
		r       Range
		total   int64
		length  int64
		content string
	}{
		{Range{0, 99}, 4096, 100, "bytes 0-99/4096"},
		{Range{0, 0}, 1, 1, "bytes 0-0/1"},
		{Range{4000, 4095}, 4096, 96, "bytes 4000-4095/4096"},
	}
	for _, tt := range tests {
		if got := tt.r.ContentLength(); got != tt.length {
			t.Errorf("%+v ContentLength() = %d, want %d", tt.r, got, tt.length)
		}
		if got := tt.r.ContentRange(tt.total); got != tt.content {
			t.Errorf("%+v ContentRange() = %q, want %q", tt.r, got, tt.content)
		}
	}
}
