package export

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"
)

var (
	ErrOutputDirRequired  = errors.New("output_dir is required")
	ErrOutputDirTraversal = errors.New("output_dir cannot contain path traversal")
	ErrOutputDirUnclean   = errors.New("output_dir must be clean path")
	ErrOutputDirMissing   = errors.New("output_dir does not exist")
	ErrOutputDirNotDir    = errors.New("output_dir is not a directory")
)

// nameSymbols are the non-alphanumeric runes kept in titles and clip names.
const nameSymbols = " -_.,()"

// SanitizeName drops control characters, replaces anything outside letters,
// digits and nameSymbols with '_', trims spaces and caps the rune count.
func SanitizeName(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), strings.ContainsRune(nameSymbols, r):
			return r
		default:
			return '_'
		}
	}, s)
	cleaned = strings.TrimSpace(cleaned)

	if runes := []rune(cleaned); maxLen > 0 && len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

// ValidExt reports whether ext is usable as a clip container extension: a
// short run of letters, digits, '-' or '_', without the leading dot.
func ValidExt(ext string) bool {
	if ext == "" || len(ext) > 8 {
		return false
	}
	return !strings.ContainsFunc(ext, func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'))
	})
}

// ValidateOutputDir accepts an existing directory given as a clean path
// without ".." elements.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrOutputDirRequired
	}
	if slices.Contains(strings.Split(filepath.ToSlash(dir), "/"), "..") {
		return ErrOutputDirTraversal
	}
	if filepath.Clean(dir) != dir {
		return ErrOutputDirUnclean
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return ErrOutputDirMissing
	case err != nil:
		return err
	case !info.IsDir():
		return ErrOutputDirNotDir
	}
	return nil
}
