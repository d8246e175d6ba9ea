//go:build linux && cgo && cuda

package device

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scttfrdmn/devblock/internal/tensor"
)

func TestCUDAAvailability(t *testing.T) {
	sys := System()
	if sys.Count() == 0 {
		t.Skip("CUDA not available")
	}

	for i := 0; i < sys.Count(); i++ {
		b, err := NewCUDABackend(i)
		require.NoError(t, err)
		t.Logf("cuda:%d: %s", i, b.Name())
		require.NoError(t, b.Close())
	}
}

func TestCUDAInvalidOrdinal(t *testing.T) {
	sys := System()
	if sys.Count() == 0 {
		t.Skip("CUDA not available")
	}

	_, err := NewCUDABackend(sys.Count())
	require.ErrorIs(t, err, ErrInvalidOrdinal)
}

func TestCUDAMatMulCorrectness(t *testing.T) {
	if System().Count() == 0 {
		t.Skip("CUDA not available")
	}

	backend, err := NewCUDABackend(0)
	require.NoError(t, err)
	defer backend.Close()

	rng := rand.New(rand.NewSource(3))
	for _, size := range []int{4, 64, 256} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			a := tensor.Randn(rng, size, size)
			b := tensor.Randn(rng, size, size)

			got, err := backend.MatMul(a, b)
			require.NoError(t, err)
			want := tensor.MatMul(a, b)

			gd, wd := got.Data(), want.Data()
			maxDiff := 0.0
			for i := range gd {
				maxDiff = math.Max(maxDiff, math.Abs(gd[i]-wd[i]))
			}
			require.Less(t, maxDiff, 1e-8)
		})
	}
}
