package capture

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/opusrec/internal/errors"
)

// DeviceInfo describes a capture device
type DeviceInfo struct {
	Index   int
	Name    string
	ID      string // decoded backend id, e.g. ":1,0" for ALSA hw devices
	Default bool
}

var backendsByName = map[string]malgo.Backend{
	"alsa":       malgo.BackendAlsa,
	"pulseaudio": malgo.BackendPulseaudio,
	"jack":       malgo.BackendJack,
	"coreaudio":  malgo.BackendCoreaudio,
	"wasapi":     malgo.BackendWasapi,
	"dsound":     malgo.BackendDsound,
	"winmm":      malgo.BackendWinmm,
	"oss":        malgo.BackendOss,
	"sndio":      malgo.BackendSndio,
	"audio4":     malgo.BackendAudio4,
	"aaudio":     malgo.BackendAaudio,
	"opensl":     malgo.BackendOpensl,
	"null":       malgo.BackendNull,
}

// ParseBackend maps a backend name to a malgo backend. An empty name selects
// the platform default.
func ParseBackend(name string) (malgo.Backend, error) {
	if name == "" {
		return backendForPlatform()
	}
	if b, ok := backendsByName[strings.ToLower(name)]; ok {
		return b, nil
	}
	return malgo.BackendNull, errors.Newf("unknown audio backend %q", name).
		Component("capture").
		Category(errors.CategoryConfiguration).
		Context("backend", name).
		Build()
}

// backendForPlatform returns the default malgo backend for the current platform
func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.Newf("unsupported operating system %s", runtime.GOOS).
			Component("capture").
			Category(errors.CategoryConfiguration).
			Context("os", runtime.GOOS).
			Build()
	}
}

// ListDevices returns the capture devices of backend, or of the platform
// default backend when it is empty
func ListDevices(backend string) ([]DeviceInfo, error) {
	b, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{b}, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "init_context").
			Context("backend", backend).
			Build()
	}
	defer func() { _ = ctx.Uninit() }()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("capture").
			Category(errors.CategoryResource).
			Context("operation", "enumerate_devices").
			Build()
	}
	return describeDevices(infos), nil
}

// describeDevices converts malgo device infos, skipping the null sink
func describeDevices(infos []malgo.DeviceInfo) []DeviceInfo {
	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		name := infos[i].Name()
		if strings.Contains(name, "Discard all samples") {
			continue
		}
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			decodedID = infos[i].ID.String()
		}
		devices = append(devices, DeviceInfo{
			Index:   i,
			Name:    name,
			ID:      strings.TrimRight(decodedID, "\x00"),
			Default: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// SelectDevice picks the device matching want. Empty, "default" and
// "sysdefault" select the system default, falling back to the first device.
// Otherwise an exact name, an exact decoded id and finally a name substring
// are tried in that order.
func SelectDevice(devices []DeviceInfo, want string) (DeviceInfo, error) {
	if want == "" || want == "default" || want == "sysdefault" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
	}

	for _, d := range devices {
		if d.Name == want {
			return d, nil
		}
	}
	for _, d := range devices {
		if d.ID == want {
			return d, nil
		}
	}
	if want != "" {
		for _, d := range devices {
			if strings.Contains(d.Name, want) {
				return d, nil
			}
		}
	}

	return DeviceInfo{}, errors.Newf("no capture device matches %q", want).
		Component("capture").
		Category(errors.CategoryNotFound).
		Context("device_name", want).
		Context("available_devices", len(devices)).
		Build()
}

// hexToASCII converts a hexadecimal string to an ASCII string
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
