// Package runner wires the image codec and the interpreter together for
// the CLI: load an image, run it to completion or fatal error, persist
// the image back, with SIGINT/SIGTERM blocked for the whole interpreter
// run.
package runner

import (
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/hazelqsil/qsil/pkg/image"
	"github.com/hazelqsil/qsil/pkg/interp"
	"github.com/hazelqsil/qsil/pkg/memory"
	"github.com/hazelqsil/qsil/pkg/vmerr"
)

// Run loads the image at path, interprets it to completion (or to a
// fatal error), and writes the image back to path before returning.
// Once the image has loaded, persistence happens whether or not Run
// itself returns an error, matching spec.md §7's "all fatal errors persist the current image to
// disk (best effort) before terminating."
func Run(path string, log *zap.Logger) error {
	mem, activeID, runErr := load(path, log)
	if runErr != nil {
		return runErr
	}

	it, err := interp.New(mem, activeID, log)
	if err != nil {
		return persistAndReturn(path, mem, activeID, log, err)
	}

	runErr = withDeferredSignals(func() error {
		return it.Run()
	})

	return persistAndReturn(path, mem, it.ActiveID, log, runErr)
}

func load(path string, log *zap.Logger) (*memory.ObjectMemory, memory.ObjectID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, vmerr.Wrap(err, vmerr.MalformedImage, vmerr.Position{}, "opening image %q", path)
	}
	defer f.Close()

	mem, activeID, err := image.Load(f)
	if err != nil {
		return nil, 0, err
	}
	log.Info("image loaded", zap.String("path", path), zap.Int("objects", mem.Len()))
	return mem, activeID, nil
}

func persistAndReturn(path string, mem *memory.ObjectMemory, activeID memory.ObjectID, log *zap.Logger, runErr error) error {
	f, createErr := os.Create(path)
	if createErr != nil {
		log.Error("failed to open image for writing", zap.Error(createErr))
		return firstNonNil(runErr, createErr)
	}
	defer f.Close()

	if saveErr := image.Save(f, mem, activeID); saveErr != nil {
		log.Error("failed to persist image", zap.Error(saveErr))
		return firstNonNil(runErr, saveErr)
	}

	log.Info("image persisted", zap.String("path", path), zap.Int("objects", mem.Len()))
	return runErr
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// withDeferredSignals blocks SIGINT/SIGTERM in the calling OS thread's
// signal mask for the whole of fn and restores the previous mask when fn
// returns. The mask spans the entire run, not each bytecode step
// separately: a signal that arrives while fn runs stays pending until fn
// returns.
func withDeferredSignals(fn func() error) error {
	var set unix.Sigset_t
	unix.Sigemptyset(&set)
	unix.Sigaddset(&set, int(unix.SIGINT))
	unix.Sigaddset(&set, int(unix.SIGTERM))

	var oldset unix.Sigset_t
	if err := unix.SigprocMask(unix.SIG_BLOCK, &set, &oldset); err != nil {
		// Signal masking is best-effort across platforms; proceed
		// without it rather than fail the run outright.
		return fn()
	}
	defer unix.SigprocMask(unix.SIG_SETMASK, &oldset, nil)

	return fn()
}
