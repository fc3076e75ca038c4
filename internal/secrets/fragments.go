package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// FragmentSource supplies the packaged middle segment of the credential.
type FragmentSource interface {
	Middle() (string, error)
}

// StaticFragment is a middle segment provided directly, typically from config.
type StaticFragment string

func (f StaticFragment) Middle() (string, error) {
	if f == "" {
		return "", errors.New("middle fragment is empty")
	}
	return string(f), nil
}

// FileFragment reads the middle segment from a packaged resource file.
type FileFragment struct {
	Path string
}

func (f FileFragment) Middle() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read middle fragment: %w", err)
	}
	middle := strings.TrimSpace(string(data))
	if middle == "" {
		return "", fmt.Errorf("middle fragment %s is empty", f.Path)
	}
	return middle, nil
}

// SelectFragment prefers the packaged file when a path is configured.
func SelectFragment(inline, path string) FragmentSource {
	if path != "" {
		return FileFragment{Path: path}
	}
	return StaticFragment(inline)
}
