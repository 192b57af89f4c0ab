//go:build dlib

package worker

import (
	"context"

	face "github.com/Kagami/go-face"
)

// NativeAvailable reports whether the binary was built with the dlib runner.
const NativeAvailable = true

// NewNativeRunner returns the dlib runner. The recognizer is loaded per call and closed
// before the process exits; the process never embeds twice.
func NewNativeRunner(modelsDir string) Runner {
	return RunnerFunc(func(_ context.Context, req Request, jpegData []byte) ([]float32, error) {
		rec, err := face.NewRecognizer(modelsDir)
		if err != nil {
			return nil, NewError(ErrorModel, "failed to load dlib models from %s: %v", modelsDir, err)
		}
		defer rec.Close()

		f, err := rec.RecognizeSingle(jpegData)
		if err != nil {
			return nil, NewError(ErrorModel, "dlib recognition failed: %v", err)
		}
		if f == nil {
			return nil, NewError(ErrorNoFace, "no single face found in %s", req.ImagePath)
		}

		vec := make([]float32, len(f.Descriptor))
		copy(vec, f.Descriptor[:])
		return vec, nil
	})
}
