package python

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoInterpreter is returned when no usable python runtime can be found.
var ErrNoInterpreter = errors.New("no python interpreter available")

// Descriptor identifies a resolved interpreter.
type Descriptor struct {
	Path    string
	Version Version
}

// Supported reports whether the descriptor names a runtime the analysis
// server can be started under. A nil descriptor is never supported.
func (d *Descriptor) Supported() bool {
	return d != nil && d.Version.AtLeast(MinVersion)
}

// Resolver discovers and validates candidate python runtimes for the
// lifecycle controller. Implementations raise a Changed signal whenever
// their notion of the active interpreter moves.
type Resolver interface {
	// Resolve turns an explicit interpreter command (executable plus
	// arguments) into a concrete descriptor.
	Resolve(ctx context.Context, command []string) (*Descriptor, error)

	// ActiveInterpreter returns the resolver's current best guess, or
	// ErrNoInterpreter when it has none.
	ActiveInterpreter(ctx context.Context) (*Descriptor, error)

	// Initialize kicks off background discovery. A successful pass is
	// announced through Changed rather than returned here.
	Initialize(ctx context.Context) error

	Changed() <-chan struct{}
}

const probeTimeout = 5 * time.Second

// versionProbe prints "major.minor" for the interpreter running it.
const versionProbe = `import sys; print("%d.%d" % sys.version_info[:2])`

// ExecResolver probes interpreters on PATH by running them.
type ExecResolver struct {
	Candidates []string
	Logger     *zap.Logger

	mu      sync.Mutex
	active  *Descriptor
	changed chan struct{}
}

// NewExecResolver builds a resolver probing the conventional executable
// names.
func NewExecResolver(logger *zap.Logger) *ExecResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecResolver{
		Candidates: []string{"python3", "python"},
		Logger:     logger,
		changed:    make(chan struct{}, 1),
	}
}

func (r *ExecResolver) Resolve(ctx context.Context, command []string) (*Descriptor, error) {
	if len(command) == 0 {
		return nil, ErrNoInterpreter
	}
	path, err := exec.LookPath(command[0])
	if err != nil {
		return nil, fmt.Errorf("interpreter %q not found: %w", command[0], err)
	}
	version, err := probeVersion(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Descriptor{Path: path, Version: version}, nil
}

func (r *ExecResolver) ActiveInterpreter(ctx context.Context) (*Descriptor, error) {
	r.mu.Lock()
	if r.active != nil {
		d := r.active
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()
	return r.discover(ctx)
}

func (r *ExecResolver) Initialize(ctx context.Context) error {
	go func() {
		if _, err := r.discover(ctx); err != nil {
			r.Logger.Debug("interpreter discovery found nothing", zap.Error(err))
		}
		r.signal()
	}()
	return nil
}

func (r *ExecResolver) Changed() <-chan struct{} { return r.changed }

// discover walks the candidate list and keeps the first interpreter that
// runs, preferring one that meets the minimum version.
func (r *ExecResolver) discover(ctx context.Context) (*Descriptor, error) {
	var fallback *Descriptor
	for _, name := range r.Candidates {
		desc, err := r.Resolve(ctx, []string{name})
		if err != nil {
			continue
		}
		if desc.Supported() {
			r.setActive(desc)
			return desc, nil
		}
		if fallback == nil {
			fallback = desc
		}
	}
	if fallback != nil {
		r.setActive(fallback)
		return fallback, nil
	}
	return nil, ErrNoInterpreter
}

func (r *ExecResolver) setActive(d *Descriptor) {
	r.mu.Lock()
	r.active = d
	r.mu.Unlock()
}

func (r *ExecResolver) signal() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func probeVersion(ctx context.Context, path string) (Version, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, path, "-c", versionProbe).Output()
	if err != nil {
		return Version{}, fmt.Errorf("version probe of %s failed: %w", path, err)
	}
	version, err := ParseVersion(strings.TrimSpace(string(out)))
	if err != nil {
		return Version{}, fmt.Errorf("version probe of %s: %w", path, err)
	}
	return version, nil
}
