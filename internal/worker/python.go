package worker

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed scripts/face_embed.py
var embeddedPythonScript []byte

// PythonScriptName is the file name of the extracted script.
const PythonScriptName = "face_embed.py"

// EnsureScript extracts the embedded Python script into dir and returns its path.
// An existing file with different contents is replaced.
func EnsureScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create worker dir: %w", err)
	}

	script := filepath.Join(dir, PythonScriptName)
	if existing, err := os.ReadFile(script); err == nil && bytes.Equal(existing, embeddedPythonScript) { //nolint:gosec // script lives in the worker dir
		return script, nil
	}

	if err := writeFileAtomic(script, embeddedPythonScript, 0755); err != nil {
		return "", fmt.Errorf("failed to write python script: %w", err)
	}
	return script, nil
}

// PythonArgs returns the interpreter arguments for one request.
func PythonArgs(script, requestPath, resultPath string) []string {
	return []string{"-u", script, "--request", requestPath, "--result", resultPath}
}

// writeFileAtomic writes through a temp file in the same directory and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
