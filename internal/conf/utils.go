// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// appDirName is the per-user configuration directory name.
const appDirName = "ha-sound-analyzer"

// addonDataDir is where the Home Assistant supervisor mounts add-on data.
const addonDataDir = "/data"

// GetDefaultConfigPaths returns the config search paths in priority order.
// If a config.yaml exists in one of them only that path is returned.
func GetDefaultConfigPaths() []string {
	var configPaths []string

	if RunningAsAddon() {
		configPaths = append(configPaths, addonDataDir)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(homeDir, ".config", appDirName))
	}
	configPaths = append(configPaths, ".")

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}
		}
	}
	return configPaths
}

// RunningAsAddon reports whether the supervisor data directory is present.
func RunningAsAddon() bool {
	info, err := os.Stat(addonDataDir)
	return err == nil && info.IsDir()
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ValidateToolPath resolves a configured tool path, falling back to PATH lookup.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if _, err := os.Stat(configuredPath); err != nil {
			return "", errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("tool", toolName).
				Context("path", configuredPath).
				Build()
		}
		return configuredPath, nil
	}

	path, err := exec.LookPath(toolName)
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryNotFound).
			Context("tool", toolName).
			Build()
	}
	return path, nil
}
