package capture

import (
	"context"
	"sync"
	"time"
)

// TargetKind identifies the type of capture target.
type TargetKind int

const (
	TargetAny         TargetKind = iota // No filter
	TargetDisplay                       // Whole display
	TargetWindow                        // Single window
	TargetApplication                   // All windows of one application
)

func (k TargetKind) String() string {
	switch k {
	case TargetAny:
		return "any"
	case TargetDisplay:
		return "display"
	case TargetWindow:
		return "window"
	case TargetApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Bounds describes the pixel dimensions of a capture target.
type Bounds struct {
	Width  int
	Height int
}

// Target describes one selectable capture source. Exactly one of DisplayID,
// WindowID, or BundleID is meaningful, matching Kind.
type Target struct {
	Kind            TargetKind
	DisplayID       uint32
	WindowID        uint32
	BundleID        string
	Title           string
	ApplicationName string
	Bounds          Bounds
}

// Matches returns true if the target passes the kind filter.
func (t Target) Matches(kind TargetKind) bool {
	return kind == TargetAny || t.Kind == kind
}

// TargetEnumerator lists available capture targets. Platform backends and
// synthetic test enumerators implement this.
type TargetEnumerator interface {
	EnumerateTargets(ctx context.Context, kind TargetKind) ([]Target, error)
}

// enumeratorRegistry holds the registered target enumerator.
type enumeratorRegistry struct {
	enumerator TargetEnumerator
	mu         sync.RWMutex
}

var globalEnumeratorRegistry = &enumeratorRegistry{}

// RegisterTargetEnumerator registers a platform-specific target enumerator.
func RegisterTargetEnumerator(e TargetEnumerator) {
	globalEnumeratorRegistry.mu.Lock()
	defer globalEnumeratorRegistry.mu.Unlock()
	globalEnumeratorRegistry.enumerator = e
}

// GetTargetEnumerator returns the registered target enumerator, or nil.
func GetTargetEnumerator() TargetEnumerator {
	globalEnumeratorRegistry.mu.RLock()
	defer globalEnumeratorRegistry.mu.RUnlock()
	return globalEnumeratorRegistry.enumerator
}

// DefaultEnumerateTimeout bounds target enumeration when the caller's
// context carries no earlier deadline.
const DefaultEnumerateTimeout = 3 * time.Second

// CatalogOptions configures a target catalog.
type CatalogOptions struct {
	// Enumerator to query. Defaults to the registered enumerator.
	Enumerator TargetEnumerator

	// Timeout bounds each enumeration. Defaults to DefaultEnumerateTimeout.
	Timeout time.Duration

	// Strict surfaces ErrTimeout and ErrPermissionDenied instead of
	// degrading to an empty result.
	Strict bool
}

// Catalog enumerates capture targets with a bounded wait. By default it
// degrades to an empty list on timeout or permission failure rather than
// returning an error; an empty result set is a valid, non-error outcome.
type Catalog struct {
	enumerator TargetEnumerator
	timeout    time.Duration
	strict     bool
}

// NewCatalog creates a target catalog.
func NewCatalog(opts CatalogOptions) *Catalog {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEnumerateTimeout
	}
	return &Catalog{
		enumerator: opts.Enumerator,
		timeout:    opts.Timeout,
		strict:     opts.Strict,
	}
}

// Enumerate lists the available targets matching kind. The underlying
// enumerator runs on its own goroutine so an abandoned wait never leaks the
// in-flight query: the goroutine finishes on its own and its result is
// discarded.
func (c *Catalog) Enumerate(ctx context.Context, kind TargetKind) ([]Target, error) {
	enumerator := c.enumerator
	if enumerator == nil {
		enumerator = GetTargetEnumerator()
	}
	if enumerator == nil {
		if c.strict {
			return nil, ErrNotSupported
		}
		return []Target{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		targets []Target
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		targets, err := enumerator.EnumerateTargets(ctx, kind)
		resCh <- result{targets, err}
	}()

	select {
	case <-ctx.Done():
		if c.strict {
			return nil, ErrTimeout
		}
		return []Target{}, nil
	case res := <-resCh:
		if res.err != nil {
			if c.strict {
				return nil, res.err
			}
			// Best-effort mode: permission failures and backend errors
			// degrade to an empty list.
			return []Target{}, nil
		}
		filtered := make([]Target, 0, len(res.targets))
		for _, t := range res.targets {
			if t.Matches(kind) {
				filtered = append(filtered, t)
			}
		}
		return filtered, nil
	}
}

// EnumerateTargets lists capture targets using the registered enumerator and
// default catalog options.
func EnumerateTargets(ctx context.Context, kind TargetKind) ([]Target, error) {
	return NewCatalog(CatalogOptions{}).Enumerate(ctx, kind)
}

// StaticEnumerator serves a fixed target list. Pairs with SyntheticProducer
// for deterministic setups.
type StaticEnumerator struct {
	Targets []Target
}

// EnumerateTargets returns the fixed list; the catalog applies the kind
// filter.
func (e StaticEnumerator) EnumerateTargets(ctx context.Context, kind TargetKind) ([]Target, error) {
	out := make([]Target, len(e.Targets))
	copy(out, e.Targets)
	return out, nil
}
