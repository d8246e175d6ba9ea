package device_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/devblock/internal/device"
	"github.com/scttfrdmn/devblock/internal/device/devicetest"
	"github.com/scttfrdmn/devblock/internal/tensor"
)

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", device.Device{Kind: device.CPU}.String())
	assert.Equal(t, "cuda:3", device.Device{Kind: device.CUDA, Index: 3}.String())
	assert.False(t, device.Device{Kind: device.CPU}.IsAccelerator())
	assert.True(t, device.Device{Kind: device.CUDA}.IsAccelerator())
}

func TestParseIndex(t *testing.T) {
	idx, err := device.ParseIndex("2")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	idx, err = device.ParseIndex(" 0 ")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	for _, bad := range []string{"", "one", "-1", "1.5"} {
		_, err := device.ParseIndex(bad)
		assert.ErrorIs(t, err, device.ErrInvalidOrdinal, "input %q", bad)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		req   device.Request
		count int
		want  device.Device
	}{
		{"cpu requested", device.Request{Type: "cpu", Single: true, Index: "1"}, 4, device.Device{Kind: device.CPU}},
		{"cpu any case", device.Request{Type: "CPU"}, 2, device.Device{Kind: device.CPU}},
		{"no accelerators", device.Request{Type: "gpu", Single: true, Index: "1"}, 0, device.Device{Kind: device.CPU}},
		{"single uses index", device.Request{Type: "gpu", Single: true, Index: "1"}, 2, device.Device{Kind: device.CUDA, Index: 1}},
		{"parallel uses zero", device.Request{Type: "gpu", Index: "1"}, 2, device.Device{Kind: device.CUDA, Index: 0}},
		{"index checked at open", device.Request{Type: "gpu", Single: true, Index: "7"}, 1, device.Device{Kind: device.CUDA, Index: 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := device.Resolve(tt.req, devicetest.New(tt.count))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveBadIndex(t *testing.T) {
	_, err := device.Resolve(device.Request{Type: "gpu", Single: true, Index: "x"}, devicetest.New(1))
	assert.ErrorIs(t, err, device.ErrInvalidOrdinal)

	// Index is ignored outside single mode.
	_, err = device.Resolve(device.Request{Type: "gpu", Index: "x"}, devicetest.New(1))
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	acc := devicetest.New(2)

	cpu, err := device.Open(device.Device{Kind: device.CPU}, acc, tensor.SingleThreadedConfig())
	require.NoError(t, err)
	assert.Equal(t, device.Device{Kind: device.CPU}, cpu.Device())

	gpu, err := device.Open(device.Device{Kind: device.CUDA, Index: 1}, acc, tensor.DefaultComputeConfig())
	require.NoError(t, err)
	assert.Equal(t, device.Device{Kind: device.CUDA, Index: 1}, gpu.Device())

	_, err = device.Open(device.Device{Kind: device.CUDA, Index: 5}, acc, tensor.DefaultComputeConfig())
	assert.ErrorIs(t, err, device.ErrInvalidOrdinal)

	_, err = device.Open(device.Device{Kind: "tpu"}, acc, tensor.DefaultComputeConfig())
	assert.Error(t, err)
}

func TestOpenAll(t *testing.T) {
	acc := devicetest.New(3)
	backends, err := device.OpenAll(acc)
	require.NoError(t, err)
	require.Len(t, backends, 3)
	for i, b := range backends {
		assert.Equal(t, i, b.Device().Index)
	}
	require.NoError(t, device.CloseAll(backends))
	for _, b := range acc.Opened() {
		assert.True(t, b.Closed())
	}
}

func TestOpenAllClosesOnFailure(t *testing.T) {
	boom := errors.New("boom")
	acc := devicetest.New(3)
	acc.FailOpen = map[int]error{2: boom}

	_, err := device.OpenAll(acc)
	assert.ErrorIs(t, err, boom)

	opened := acc.Opened()
	require.Len(t, opened, 2)
	for _, b := range opened {
		assert.True(t, b.Closed())
	}
}

func TestOpenAllWithoutAccelerators(t *testing.T) {
	_, err := device.OpenAll(devicetest.New(0))
	assert.ErrorIs(t, err, device.ErrNoAccelerator)
}

func TestCPUBackendMatMul(t *testing.T) {
	b := device.NewCPUBackend(tensor.DefaultComputeConfig())
	assert.Contains(t, b.Name(), "CPU")

	x := tensor.FromValues([]float64{1, 2, 3, 4}, 2, 2)
	id := tensor.FromValues([]float64{1, 0, 0, 1}, 2, 2)

	out, err := b.MatMul(x, id)
	require.NoError(t, err)
	assert.Equal(t, x.Data(), out.Data())

	_, err = b.MatMul(x, tensor.New(3, 2))
	assert.Error(t, err)
	_, err = b.MatMul(tensor.New(4), id)
	assert.Error(t, err)

	assert.NoError(t, b.Close())
}

func TestSystemDoesNotPanic(t *testing.T) {
	sys := device.System()
	t.Logf("visible accelerators: %d", sys.Count())
	assert.GreaterOrEqual(t, sys.Count(), 0)
}
