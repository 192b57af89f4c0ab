// Package embedder is the Embedding Service. Every embedding is computed by a freshly
// spawned worker process; calls are serialised, bounded by a timeout and converted into
// typed errors whatever happens inside the worker.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/worker"
)

// Options configures a Service.
type Options struct {
	Timeout    time.Duration      // per-call limit, defaults to constants.DefaultEmbeddingTimeout
	ScratchDir string             // parent of the per-call request/result dirs, defaults to os.TempDir()
	MaxOutput  int                // captured worker output, defaults to constants.MaxWorkerOutput
	Logger     logrus.FieldLogger // defaults to the logrus standard logger
}

// Service generates face embeddings in isolated worker processes.
type Service struct {
	registry *faceid.Registry
	launcher Launcher
	gate     *Gate
	timeout  time.Duration
	scratch  string
	maxOut   int
	log      logrus.FieldLogger
}

// New creates a Service.
func New(registry *faceid.Registry, launcher Launcher, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultEmbeddingTimeout
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = constants.MaxWorkerOutput
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Service{
		registry: registry,
		launcher: launcher,
		gate:     NewGate(),
		timeout:  opts.Timeout,
		scratch:  opts.ScratchDir,
		maxOut:   opts.MaxOutput,
		log:      opts.Logger,
	}
}

// Registry returns the variant table the service validates against.
func (s *Service) Registry() *faceid.Registry {
	return s.registry
}

// Generate computes the embedding of one face crop. A missing image fails with
// faceid.ErrNotFound before anything else happens, an unknown variant with
// faceid.ErrUnsupportedModel, and any worker failure with *faceid.GenerationError.
func (s *Service) Generate(ctx context.Context, imagePath string, variant faceid.Variant) (faceid.FaceEmbedding, error) {
	absPath, err := checkImage(imagePath)
	if err != nil {
		return faceid.FaceEmbedding{}, err
	}
	spec, err := s.registry.Lookup(variant)
	if err != nil {
		return faceid.FaceEmbedding{}, err
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return faceid.FaceEmbedding{}, fmt.Errorf("waiting for embedding gate: %w", err)
	}
	defer s.gate.Release()

	start := time.Now()
	log := s.log.WithFields(logrus.Fields{"variant": spec.Name, "image": absPath})
	emb, err := s.run(ctx, absPath, spec)
	if err != nil {
		fields := logrus.Fields{"duration": time.Since(start)}
		if genErr, ok := faceid.AsGenerationError(err); ok {
			fields["kind"] = genErr.Kind
			fields["exit_code"] = genErr.ExitCode
		}
		log.WithFields(fields).WithError(err).Warn("embedding failed")
		return faceid.FaceEmbedding{}, err
	}
	log.WithField("duration", time.Since(start)).Debug("embedding generated")
	return emb, nil
}

func checkImage(imagePath string) (string, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", faceid.NotFoundError(imagePath)
		}
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	if info.IsDir() {
		return "", faceid.ValidationErrorf("%s is a directory, not an image", imagePath)
	}
	absPath, err := filepath.Abs(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve image path: %w", err)
	}
	return absPath, nil
}

func (s *Service) run(ctx context.Context, imagePath string, spec faceid.VariantSpec) (faceid.FaceEmbedding, error) {
	dir := filepath.Join(s.scratch, "rollcall-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return faceid.FaceEmbedding{}, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	requestPath := filepath.Join(dir, "request.json")
	resultPath := filepath.Join(dir, "result.json")
	if err := worker.WriteRequest(requestPath, worker.NewRequest(imagePath, spec)); err != nil {
		return faceid.FaceEmbedding{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd, err := s.launcher.Command(runCtx, spec, requestPath, resultPath)
	if err != nil {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{Kind: faceid.KindSpawnFailed, Message: "failed to build worker command", Err: err}
	}
	sc := NewSafeCommand(cmd, s.maxOut)
	if err := sc.Start(); err != nil {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{Kind: faceid.KindSpawnFailed, Message: "failed to start worker", Err: err}
	}
	waitErr := sc.Wait()

	return s.interpret(ctx, runCtx, spec, resultPath, sc, waitErr)
}

// interpret turns the worker's exit status and result file into an embedding or a
// GenerationError. A failure payload wins over the exit status; a missing or broken
// result file is never mistaken for success.
func (s *Service) interpret(ctx, runCtx context.Context, spec faceid.VariantSpec, resultPath string,
	sc *SafeCommand, waitErr error) (faceid.FaceEmbedding, error) {
	diagnostics := sc.Diagnostics()
	exitCode := -1
	if sc.ProcessState != nil {
		exitCode = sc.ProcessState.ExitCode()
	}

	if ctx.Err() != nil {
		return faceid.FaceEmbedding{}, fmt.Errorf("embedding cancelled: %w", ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        faceid.KindTimeout,
			Message:     fmt.Sprintf("worker did not finish within %s", s.timeout),
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
			Err:         runCtx.Err(),
		}
	}

	res, readErr := worker.ReadResult(resultPath)
	if readErr == nil && !res.Success {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        kindFor(res.ErrorType),
			Message:     res.ErrorMessage,
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		msg := "worker terminated abnormally"
		if errors.As(waitErr, &exitErr) {
			msg = fmt.Sprintf("worker exited with %s", exitErr.ProcessState.String())
		}
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        faceid.KindCrash,
			Message:     msg,
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
			Err:         waitErr,
		}
	}

	if readErr != nil {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        faceid.KindMalformedOutput,
			Message:     "worker exited without a usable result",
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
			Err:         readErr,
		}
	}

	if res.Dimension != len(res.Embedding) {
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        faceid.KindMalformedOutput,
			Message:     fmt.Sprintf("result declares %d dimensions but carries %d values", res.Dimension, len(res.Embedding)),
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
		}
	}

	emb, err := faceid.NewFaceEmbedding(spec, res.Embedding)
	if err != nil {
		kind := faceid.KindMalformedOutput
		if len(res.Embedding) != spec.Dimension {
			kind = faceid.KindDimensionMismatch
		}
		return faceid.FaceEmbedding{}, &faceid.GenerationError{
			Kind:        kind,
			Message:     "worker returned an invalid embedding",
			ExitCode:    exitCode,
			Diagnostics: diagnostics,
			Err:         err,
		}
	}
	return emb, nil
}

func kindFor(errorType string) faceid.GenerationKind {
	switch kind := faceid.GenerationKind(errorType); kind {
	case faceid.KindFileNotFound, faceid.KindNoFace, faceid.KindDecodeError, faceid.KindModelError:
		return kind
	default:
		return faceid.KindWorkerError
	}
}
