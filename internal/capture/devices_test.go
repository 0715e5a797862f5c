package capture

import (
	"encoding/hex"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/opusrec/internal/errors"
)

var testDevices = []DeviceInfo{
	{Index: 0, Name: "HDA Intel PCH, ALC257 Analog", ID: ":0,0"},
	{Index: 1, Name: "USB Audio Device", ID: ":1,0", Default: true},
	{Index: 3, Name: "Loopback, Loopback PCM", ID: ":2,0"},
}

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		want      string
		wantIndex int
	}{
		{"empty selects default", "", 1},
		{"default alias", "default", 1},
		{"sysdefault alias", "sysdefault", 1},
		{"exact name", "Loopback, Loopback PCM", 3},
		{"decoded id", ":0,0", 0},
		{"partial name", "ALC257", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := SelectDevice(testDevices, tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndex, got.Index)
		})
	}
}

func TestSelectDeviceFallsBackToFirst(t *testing.T) {
	t.Parallel()

	devices := []DeviceInfo{{Index: 2, Name: "first"}, {Index: 5, Name: "second"}}
	got, err := SelectDevice(devices, "")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Index)
}

func TestSelectDeviceNoMatch(t *testing.T) {
	t.Parallel()

	_, err := SelectDevice(testDevices, "does-not-exist")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotFound))

	_, err = SelectDevice(nil, "")
	require.Error(t, err)
}

func TestParseBackend(t *testing.T) {
	t.Parallel()

	b, err := ParseBackend("ALSA")
	require.NoError(t, err)
	assert.Equal(t, malgo.Backend(malgo.BackendAlsa), b)

	b, err = ParseBackend("null")
	require.NoError(t, err)
	assert.Equal(t, malgo.Backend(malgo.BackendNull), b)

	_, err = ParseBackend("bogus")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestBackendNamesMatchSupportedList(t *testing.T) {
	t.Parallel()

	for name := range backendsByName {
		_, err := ParseBackend(name)
		assert.NoError(t, err, name)
	}
}

func TestHexToASCII(t *testing.T) {
	t.Parallel()

	got, err := hexToASCII(hex.EncodeToString([]byte(":1,0")))
	require.NoError(t, err)
	assert.Equal(t, ":1,0", got)

	_, err = hexToASCII("zz")
	assert.Error(t, err)
}
