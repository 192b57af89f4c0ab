package cmd

import (
	"encoding/json"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/rollcall/internal/faceid"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newProgressBar returns a stderr progress bar, or nil when quiet.
func newProgressBar(total int, description string, quiet bool) *progressbar.ProgressBar {
	if quiet || total == 0 {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("faces"),
		progressbar.OptionClearOnFinish(),
	)
}

// advance moves bar forward, tolerating a nil bar.
func advance(bar *progressbar.ProgressBar) {
	if bar != nil {
		_ = bar.Add(1)
	}
}

// errorOutput is the JSON shape of a failed item.
type errorOutput struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
}

func toErrorOutput(err error) *errorOutput {
	out := &errorOutput{Error: err.Error()}
	if genErr, ok := faceid.AsGenerationError(err); ok {
		out.Kind = string(genErr.Kind)
		out.ExitCode = genErr.ExitCode
	}
	return out
}
