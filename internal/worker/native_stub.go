//go:build !dlib

package worker

import "context"

// NativeAvailable reports whether the binary was built with the dlib runner.
const NativeAvailable = false

// NewNativeRunner returns a runner that always fails. Build with -tags dlib for dlib support.
func NewNativeRunner(_ string) Runner {
	return RunnerFunc(func(_ context.Context, _ Request, _ []byte) ([]float32, error) {
		return nil, NewError(ErrorModel, "native runner not compiled in (build with -tags dlib)")
	})
}
