package embedder

import (
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait keeps reading output after the worker was killed.
const waitDelay = 5 * time.Second

// SafeCommand wraps an exec.Cmd and captures stdout and stderr into one bounded buffer,
// so a crashing worker still leaves its last output behind for diagnostics.
type SafeCommand struct {
	*exec.Cmd
	output *tailBuffer
}

// NewSafeCommand attaches the capture buffer and puts the process in its own process
// group, so cancellation kills the worker and anything it spawned.
func NewSafeCommand(cmd *exec.Cmd, limit int) *SafeCommand {
	buf := &tailBuffer{limit: limit}
	cmd.Stdout = buf
	cmd.Stderr = buf
	configureProcess(cmd)
	return &SafeCommand{Cmd: cmd, output: buf}
}

// Diagnostics returns the captured output.
func (s *SafeCommand) Diagnostics() string {
	return s.output.String()
}

// tailBuffer keeps the last limit bytes written to it. exec.Cmd serialises writes when
// Stdout and Stderr share one writer.
type tailBuffer struct {
	data      []byte
	limit     int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if b.limit > 0 && len(b.data) > b.limit {
		b.data = append([]byte(nil), b.data[len(b.data)-b.limit:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "...(truncated)\n" + string(b.data)
	}
	return string(b.data)
}
