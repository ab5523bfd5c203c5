package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName is looked up in the working directory and its parents when no
// explicit prompt path is configured.
const FileName = "ANALYSIS_PROMPT.md"

var getwd = os.Getwd

// Resolve returns the analysis instruction and where it came from. An
// explicit path must exist; otherwise FileName is searched upwards from the
// working directory and fallback is used when nothing is found.
func Resolve(path, fallback string) (string, string, error) {
	if path = strings.TrimSpace(path); path != "" {
		text, err := read(path)
		if err != nil {
			return "", "", err
		}
		return text, path, nil
	}
	cwd, err := getwd()
	if err != nil {
		return fallback, "builtin", nil
	}
	found, err := findInParents(cwd, FileName)
	if err != nil {
		return fallback, "builtin", nil
	}
	text, err := read(found)
	if err != nil {
		return "", "", err
	}
	return text, found, nil
}

func read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read analysis prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("analysis prompt %s is empty", path)
	}
	return text, nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
