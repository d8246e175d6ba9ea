//go:build !linux || !cgo || !cuda

package device

type noAccelerators struct{}

// System returns the accelerators visible to this build. Without the cuda
// build tag (or off linux+cgo) there are none.
func System() Accelerators {
	return noAccelerators{}
}

func (noAccelerators) Count() int {
	return 0
}

func (noAccelerators) Open(int) (Backend, error) {
	return nil, ErrNoAccelerator
}
