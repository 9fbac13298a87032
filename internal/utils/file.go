package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var imageExts = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"bmp":  true,
	"webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

// GetFileExtension returns the lower-cased file extension without the dot
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// IsImageFile reports whether filename has a supported card image extension.
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// ListImageFiles recursively lists all image files in a directory
func ListImageFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsImageFile(path) {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// CollectImages expands inputs into a sorted, de-duplicated list of image
// files. Directories are walked recursively; files are taken as given, even
// without an image extension, so the decoder gets to report the problem.
func CollectImages(inputs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(path string) {
		clean := filepath.Clean(path)
		if !seen[clean] {
			seen[clean] = true
			out = append(out, clean)
		}
	}

	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", in, err)
		}
		if !info.IsDir() {
			add(in)
			continue
		}
		files, err := ListImageFiles(in)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", in, err)
		}
		for _, f := range files {
			add(f)
		}
	}

	sort.Strings(out)
	return out, nil
}

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	result := filename
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "_")
	}
	return strings.Trim(result, " .")
}

// DebugFilename returns the overlay path written next to outputDir for input.
func DebugFilename(input, outputDir string) string {
	base := filepath.Base(input)
	name := SanitizeFilename(strings.TrimSuffix(base, filepath.Ext(base)))
	return filepath.Join(outputDir, name+"_debug.png")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
