//go:build !opencl
// +build !opencl

package opencl

// New reports ErrUnavailable since this binary was built without the opencl
// build tag.
func New() (API, error) {
	return nil, ErrUnavailable
}
