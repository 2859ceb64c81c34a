package evolution

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/idelchi/chaoscrypt/internal/keys"
)

// ErrClosed is returned by a Scheduler after Close.
var ErrClosed = errors.New("scheduler closed")

// State is the scheduler's lifecycle state.
type State int

const (
	// Stable means the current material is in use and no evolution is running.
	Stable State = iota
	// Evolving means a successor is being derived. Leases still hand out the current material.
	Evolving
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case Evolving:
		return "evolving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Scheduler.
type Options struct {
	// Trigger decides when to evolve. Nil means Never.
	Trigger Trigger
	// Entropy for successor seeds. Nil means crypto/rand.
	Entropy io.Reader
	// Clock for AfterDuration. Nil means SystemTime.
	Clock TimeProvider
	// Logger receives evolution events. Nil discards them.
	Logger *logrus.Logger
}

type generation struct {
	km      *keys.Material
	refs    int
	retired bool
}

// flight is one evolution in progress; concurrent requests wait on it instead of starting another.
type flight struct {
	done chan struct{}
	err  error
}

// Scheduler owns the current shared material and evolves it.
// It is safe for concurrent use.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	current  *generation
	retired  map[*generation]struct{}
	usage    Usage
	inFlight *flight
	closed   bool
}

// New takes ownership of initial.
func New(initial *keys.Material, opts Options) (*Scheduler, error) {
	if initial == nil || initial.Wiped() {
		return nil, errors.New("initial key material missing or wiped")
	}

	if opts.Trigger == nil {
		opts.Trigger = Never
	}

	if opts.Entropy == nil {
		opts.Entropy = rand.Reader
	}

	if opts.Clock == nil {
		opts.Clock = SystemTime{}
	}

	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetOutput(io.Discard)
	}

	return &Scheduler{
		opts:    opts,
		current: &generation{km: initial},
		retired: make(map[*generation]struct{}),
		usage:   Usage{Since: opts.Clock.Now()},
	}, nil
}

// State reports whether an evolution is running.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight != nil {
		return Evolving
	}

	return Stable
}

// Counter returns the evolution counter of the current material.
func (s *Scheduler) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current.km.Counter()
}

// Usage returns the usage recorded against the current material.
func (s *Scheduler) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.usage
}

// Lease pins one material until Release.
type Lease struct {
	s    *Scheduler
	gen  *generation
	once sync.Once
}

// Material returns the leased material.
func (l *Lease) Material() *keys.Material { return l.gen.km }

// Release unpins the material. A retired material is wiped when its last lease is released.
// Release is idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.s.mu.Lock()
		defer l.s.mu.Unlock()

		l.gen.refs--

		if l.gen.retired && l.gen.refs == 0 {
			l.gen.km.Wipe()
			delete(l.s.retired, l.gen)
		}
	})
}

// Acquire leases the current material, evolving it first when the trigger is due.
// A failed evolution is returned as an error; the old material stays current.
func (s *Scheduler) Acquire() (*Lease, error) {
	if _, err := s.evolve(false); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	s.current.refs++

	return &Lease{s: s, gen: s.current}, nil
}

// Record adds usage to the current material and evolves it when the trigger
// becomes due. It reports whether an evolution happened.
func (s *Scheduler) Record(bytes int64, files int) (bool, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return false, ErrClosed
	}

	s.usage.Bytes += bytes
	s.usage.Files += files
	s.mu.Unlock()

	return s.evolve(false)
}

// Evolve replaces the current material unconditionally, e.g. after it produced
// a numerically unstable keystream. If an evolution is already running, Evolve
// waits for it instead of starting a second one.
func (s *Scheduler) Evolve() error {
	_, err := s.evolve(true)

	return err
}

func (s *Scheduler) evolve(force bool) (bool, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return false, ErrClosed
	}

	if f := s.inFlight; f != nil {
		s.mu.Unlock()

		// A due evolution is already running; only forced requests wait for it.
		if !force {
			return false, nil
		}

		<-f.done

		return f.err == nil, f.err
	}

	now := s.opts.Clock.Now()

	if !force && !s.opts.Trigger.Due(s.usage, now) {
		s.mu.Unlock()

		return false, nil
	}

	f := &flight{done: make(chan struct{})}
	s.inFlight = f
	prev := s.current
	s.mu.Unlock()

	// Derivation runs outside the lock so leases stay available.
	next, err := prev.km.Evolve(s.opts.Entropy)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = nil

	defer close(f.done)

	if err == nil && s.closed {
		next.Wipe()

		err = ErrClosed
	}

	if err != nil {
		f.err = fmt.Errorf("evolving key material: %w", err)

		s.opts.Logger.WithFields(logrus.Fields{
			"evolution": prev.km.Counter(),
			"forced":    force,
		}).WithError(err).Warn("key evolution failed")

		return false, f.err
	}

	s.current = &generation{km: next}
	s.usage = Usage{Since: now}
	s.retire(prev)

	s.opts.Logger.WithFields(logrus.Fields{
		"evolution": next.Counter(),
		"key_id":    next.KeyID(),
		"forced":    force,
	}).Info("key material evolved")

	return true, nil
}

// retire must be called with s.mu held.
func (s *Scheduler) retire(gen *generation) {
	gen.retired = true

	if gen.refs == 0 {
		gen.km.Wipe()

		return
	}

	s.retired[gen] = struct{}{}
}

// Close wipes the current material and every retired material still leased.
// Later calls fail with ErrClosed.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.current.km.Wipe()

	for gen := range s.retired {
		gen.km.Wipe()
	}

	clear(s.retired)

	return nil
}
