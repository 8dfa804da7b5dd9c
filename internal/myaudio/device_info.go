package myaudio

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/granmeloco/ha-sound-analyzer-add-on/internal/errors"
)

// AudioDeviceInfo holds information about a capture device.
type AudioDeviceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// getBackendForPlatform returns the malgo backend for the current platform.
func getBackendForPlatform() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// initContext initializes a malgo context routing backend messages to the debug log.
func initContext() (*malgo.AllocatedContext, error) {
	log := GetLogger()
	mctx, err := malgo.InitContext([]malgo.Backend{getBackendForPlatform()}, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo: " + strings.TrimSpace(message))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Context("os", runtime.GOOS).
			Build()
	}
	return mctx, nil
}

// ListDevices returns the available capture devices.
func ListDevices() ([]AudioDeviceInfo, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_devices").
			Build()
	}

	devices := make([]AudioDeviceInfo, 0, len(infos))
	for i := range infos {
		// Skip the discard/null device
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodeDeviceID(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// selectDevice returns the index of the device matching name, or -1 for the
// system default device.
func selectDevice(devices []AudioDeviceInfo, name string) (int, error) {
	switch name {
	case "", "default", "sysdefault":
		return -1, nil
	}

	// Exact name, then decoded ID, then partial name
	for i := range devices {
		if devices[i].Name == name {
			return i, nil
		}
	}
	for i := range devices {
		if devices[i].ID == name {
			return i, nil
		}
	}
	for i := range devices {
		if strings.Contains(devices[i].Name, name) {
			return i, nil
		}
	}

	return 0, errors.Newf("no capture device matches %q", name).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Context("device_name", name).
		Context("available_devices", len(devices)).
		Build()
}

// decodeDeviceID converts the hex encoded malgo device id to text, falling
// back to the raw id when it is not valid hex.
func decodeDeviceID(hexStr string) string {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return hexStr
	}
	return strings.TrimRight(string(b), "\x00")
}
