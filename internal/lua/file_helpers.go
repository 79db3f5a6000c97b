package lua

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// sanitizeFilename checks for directory traversal and ensures a valid .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", errors.New("filename must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName != name || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid filename '%s'", name)
	}
	return cleanName, nil
}

// GetPatternPath returns the path of a pattern inside the patterns directory,
// creating the directory on first use.
func (e *Engine) GetPatternPath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(e.patternsDir); os.IsNotExist(err) {
		e.logger.Info().Str("dir", e.patternsDir).Msg("Creating patterns directory")
		if err := os.MkdirAll(e.patternsDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create patterns directory: %w", err)
		}
	}
	return filepath.Join(e.patternsDir, cleanName), nil
}

// GetPatternCode reads and returns the source code of a pattern file.
func (e *Engine) GetPatternCode(name string) (string, error) {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SavePatternCode writes the provided Lua source code to a pattern file.
func (e *Engine) SavePatternCode(name, code string) error {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// DeletePattern removes a pattern file by name.
func (e *Engine) DeletePattern(name string) error {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// GetPatternList returns the sorted .lua files in the patterns directory.
func (e *Engine) GetPatternList() ([]string, error) {
	patterns := []string{}
	files, err := os.ReadDir(e.patternsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return patterns, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			patterns = append(patterns, file.Name())
		}
	}
	sort.Strings(patterns)
	return patterns, nil
}
