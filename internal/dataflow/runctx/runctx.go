// Package runctx holds the per-run context passed to a processor's
// Preprocess/Process/Postprocess hooks — the "processing_ctx" of the
// lifecycle, as distinct from the process-lifetime ctx.Context passed to
// Configure/Prepare/Unprepare. It also owns the run's storage contexts
// (spec §6: runroot/rungroup/runbase/run/test/lastrun/...) and the single
// recorded error a run terminates with (spec §7).
package runctx

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/go-arcade/arcade/pkg/runner"
	"github.com/go-arcade/arcade/pkg/shutdown"
)

// StorageError wraps a failure building or resolving a run's storage
// contexts, distinguishing it from a processor lifecycle error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("runctx: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Context is created fresh by Graph.Start for each run and discarded on
// Stop; nothing in it survives across runs of the same built graph.
type Context struct {
	Log     *zap.SugaredLogger
	RunID   string
	control *shutdown.Manager

	paths map[string]string

	errMu sync.Mutex
	err   *TerminationError
}

// TerminationError is the first error recorded against a run via
// TerminateWithError; subsequent calls are dropped (spec §7: "stores the
// first error atomically").
type TerminationError struct {
	Processor string
	Step      string
	Message   string
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("Processor `%s` failed in `%s`: %s", e.Processor, e.Step, e.Message)
}

// Options configure storage-context creation for one run.
type Options struct {
	// StorageRoot is the filesystem root every context path is resolved
	// under. Defaults to the process's working directory (pkg/runner.Pwd)
	// the way the teacher's own path-resolution helpers fall back to the
	// process cwd when no explicit root is configured.
	StorageRoot string
	RunGroupID  string
	RunID       string
	TemplateID  string
	Test        bool
}

// New creates a RunContext for a single run, identified by runID (used in
// log lines and control-plane status queries to distinguish runs of a
// graph that has been stopped and started again). It does not create any
// storage directories; call CreateStorage for that.
func New(log *zap.SugaredLogger, runID string) *Context {
	return &Context{
		Log:     log.With("run_id", runID),
		RunID:   runID,
		control: shutdown.NewManager(),
		paths:   make(map[string]string),
	}
}

// CreateStorage builds the run's storage directories under opts.StorageRoot
// (spec §4.6 StartProcessing step 1): runs/<group> (the rungroup context),
// runs/<group>/<run>, and re-creates the _last_run_group/_last_run
// symlinks. It fails if the specific run directory already exists, per
// spec — a caller must not reuse a (group, run) pair.
func (c *Context) CreateStorage(opts Options) error {
	root := opts.StorageRoot
	if root == "" {
		root = runner.Pwd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return &StorageError{Op: "resolve root", Err: err}
	}

	runRoot := filepath.Join(root, "runs")
	rungroupDir := filepath.Join(runRoot, opts.RunGroupID)
	runDir := filepath.Join(rungroupDir, opts.RunID)

	if _, err := os.Stat(runDir); err == nil {
		return &StorageError{Op: "create run dir", Err: fmt.Errorf("run directory %q already exists", runDir)}
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return &StorageError{Op: "create run dir", Err: err}
	}

	c.paths["runroot"] = runRoot
	c.paths["rungroup"] = rungroupDir
	c.paths["runbase"] = rungroupDir
	c.paths["run"] = runDir

	if opts.Test {
		testDir := filepath.Join(runDir, "test")
		if err := os.MkdirAll(testDir, 0o755); err != nil {
			return &StorageError{Op: "create test dir", Err: err}
		}
		c.paths["test"] = testDir
	}

	if opts.TemplateID != "" {
		templateBase := filepath.Join(runRoot, "templates", opts.TemplateID)
		c.paths["templatebase"] = templateBase
		c.paths["template"] = filepath.Join(templateBase, opts.RunID)
		c.paths["templatetest"] = filepath.Join(templateBase, opts.RunID, "test")
	}

	if err := relink(filepath.Join(runRoot, "_last_run_group"), rungroupDir); err != nil {
		return &StorageError{Op: "link lastrungroup", Err: err}
	}
	if err := relink(filepath.Join(runRoot, "_last_run"), runDir); err != nil {
		return &StorageError{Op: "link lastrun", Err: err}
	}
	c.paths["lastrungroup"] = filepath.Join(runRoot, "_last_run_group")
	c.paths["lastrun"] = filepath.Join(runRoot, "_last_run")
	c.paths["lastrunbase"] = c.paths["lastrungroup"]
	if opts.Test {
		c.paths["lasttest"] = filepath.Join(c.paths["lastrun"], "test")
	}

	return nil
}

// relink atomically (re)points a symlink at target: create alongside the
// old one under a temp name, then rename over it, so a reader never
// observes a missing or half-written link.
func relink(link, target string) error {
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, link)
}

// Resolve turns a "context://relative/path" reference into an absolute
// filesystem path, per spec §6. name must be one of the contexts
// CreateStorage populated (runroot, rungroup, runbase, run, test, lastrun,
// lastrungroup, lastrunbase, lasttest, and optionally templatebase/
// template/templatetest).
func (c *Context) Resolve(name, relative string) (string, error) {
	base, ok := c.paths[name]
	if !ok {
		return "", fmt.Errorf("runctx: unknown storage context %q", name)
	}
	return filepath.Join(base, relative), nil
}

// Terminated reports whether Stop has been requested for this run. A
// processor's Process loop checks this once per iteration and returns from
// Process (triggering Postprocess) once it flips true.
func (c *Context) Terminated() bool {
	return c.control.IsShuttingDown()
}

// RequestStop signals every processor engine watching this run to wind
// down after finishing its current iteration. Idempotent.
func (c *Context) RequestStop() {
	c.control.Shutdown()
}

// Done returns a channel that closes once RequestStop has been called.
func (c *Context) Done() <-chan struct{} {
	return c.control.Wait()
}

// TerminateWithError records the first processing error for this run and
// requests every engine stop. Subsequent calls are dropped (spec §7); only
// the first failure is ever surfaced by Err.
func (c *Context) TerminateWithError(processor, step, message string) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = &TerminationError{Processor: processor, Step: step, Message: message}
	}
	c.errMu.Unlock()
	c.RequestStop()
}

// Err returns the first error recorded via TerminateWithError, or nil if
// the run ended without one.
func (c *Context) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err
}
