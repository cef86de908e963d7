package container

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-harness/archive"
	"github.com/ethereum-optimism/infra/op-harness/spi"
)

type bundle struct {
	handle  Handle
	archive *archive.Archive
	state   State
}

// Framework is an in-memory bundle registry. Only classes listed by
// resolved or active bundles are visible through its loader.
type Framework struct {
	log log.Logger

	mu      sync.RWMutex
	nextID  int64
	bundles map[int64]*bundle
}

var _ Container = (*Framework)(nil)

// NewFramework creates an empty in-process Framework
func NewFramework(logger log.Logger) *Framework {
	return &Framework{
		log:     logger.New("component", "framework"),
		bundles: make(map[int64]*bundle),
	}
}

// Install adds a in the INSTALLED state
func (f *Framework) Install(_ context.Context, a *archive.Archive) (Handle, error) {
	if a == nil {
		return Handle{}, errors.New("cannot install a nil archive")
	}
	name := a.SymbolicName()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findLocked(name) != nil {
		return Handle{}, fmt.Errorf("bundle %s is already installed", name)
	}
	f.nextID++
	b := &bundle{
		handle:  Handle{ID: f.nextID, Name: name},
		archive: a,
		state:   StateInstalled,
	}
	f.bundles[b.handle.ID] = b
	f.log.Info("bundle installed", "bundle", b.handle, "classes", len(a.TestClasses()))
	return b.handle, nil
}

// Resolve checks the requirements of h against installed bundles
func (f *Framework) Resolve(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.getLocked(h)
	if err != nil {
		return err
	}
	return f.resolveLocked(b)
}

func (f *Framework) resolveLocked(b *bundle) error {
	if b.state != StateInstalled {
		return nil
	}
	for _, req := range b.archive.Requirements() {
		if f.findLocked(req) == nil {
			return fmt.Errorf("cannot resolve %s: missing required bundle %s", b.handle, req)
		}
	}
	f.transition(b, StateResolved)
	return nil
}

// Start activates h, resolving it first if needed
func (f *Framework) Start(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.getLocked(h)
	if err != nil {
		return err
	}
	if b.state == StateActive {
		return nil
	}
	if err := f.resolveLocked(b); err != nil {
		return err
	}
	f.transition(b, StateStarting)
	f.transition(b, StateActive)
	return nil
}

func (f *Framework) Stop(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.getLocked(h)
	if err != nil {
		return err
	}
	f.stopLocked(b)
	return nil
}

func (f *Framework) stopLocked(b *bundle) {
	if b.state != StateActive {
		return
	}
	f.transition(b, StateStopping)
	f.transition(b, StateResolved)
}

// Uninstall stops h if active and removes it
func (f *Framework) Uninstall(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.getLocked(h)
	if err != nil {
		return err
	}
	f.stopLocked(b)
	f.transition(b, StateUninstalled)
	delete(f.bundles, h.ID)
	return nil
}

func (f *Framework) State(_ context.Context, h Handle) (State, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.bundles[h.ID]
	if !ok {
		return StateUninstalled, nil
	}
	return b.state, nil
}

func (f *Framework) IsInstalled(_ context.Context, symbolicName string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.findLocked(symbolicName) != nil, nil
}

// Bundles lists installed bundles ordered by id.
func (f *Framework) Bundles() []Handle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Handle, 0, len(f.bundles))
	for _, b := range f.bundles {
		out = append(out, b.handle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BundleOf returns the resolved or active bundle that lists class.
func (f *Framework) BundleOf(class string) (Handle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, h := range f.sortedLocked() {
		b := f.bundles[h]
		if !b.visible() {
			continue
		}
		if slices.Contains(b.archive.TestClasses(), class) {
			return b.handle, true
		}
	}
	return Handle{}, false
}

// Loader restricts base to the classes exposed by installed bundles.
func (f *Framework) Loader(base spi.Loader) spi.Loader {
	return &bundleLoader{fw: f, base: base}
}

func (b *bundle) visible() bool {
	switch b.state {
	case StateResolved, StateStarting, StateActive, StateStopping:
		return true
	default:
		return false
	}
}

func (f *Framework) transition(b *bundle, to State) {
	f.log.Debug("bundle state change", "bundle", b.handle, "from", b.state, "to", to)
	b.state = to
}

func (f *Framework) getLocked(h Handle) (*bundle, error) {
	b, ok := f.bundles[h.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBundle, h)
	}
	return b, nil
}

func (f *Framework) findLocked(symbolicName string) *bundle {
	for _, b := range f.bundles {
		if b.handle.Name == symbolicName {
			return b
		}
	}
	return nil
}

func (f *Framework) sortedLocked() []int64 {
	ids := make([]int64, 0, len(f.bundles))
	for id := range f.bundles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

type bundleLoader struct {
	fw   *Framework
	base spi.Loader
}

func (l *bundleLoader) LoadTestClass(name string) (*spi.TestClass, error) {
	if _, ok := l.fw.BundleOf(name); !ok {
		return nil, &spi.ClassNotFoundError{Name: name}
	}
	return l.base.LoadTestClass(name)
}
