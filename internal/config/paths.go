package config

import (
	"os"
	"path/filepath"
)

func GetUserConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".voxterm"), nil
}

// DefaultPath is ~/.voxterm/config.yaml, or "" when there is no home.
func DefaultPath() string {
	dir, err := GetUserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultLogFile is ~/.voxterm/voxterm.log. The directory is created.
func DefaultLogFile() (string, error) {
	dir, err := GetUserConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "voxterm.log"), nil
}
