// Package registry is the database of known texture formats.
//
// Formats are keyed by their FormatID and indexed by every file length a
// container of that format can have. The registry is created once at
// startup, passed to the scan pipeline, and mutated as headers reveal new
// formats. It is only written back to disk on request.
package registry

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/texture"
)

// DefaultMaxExamples caps the example filenames kept per format.
const DefaultMaxExamples = 8

var (
	// ErrUnknownFormat is returned when an operation references an ID that is
	// not registered.
	ErrUnknownFormat = errors.New("unknown format")
	// ErrInvalidFormat is returned by Insert for formats that fail validation.
	ErrInvalidFormat = errors.New("invalid format")
)

// InsertOutcome reports what Insert did.
type InsertOutcome int

const (
	// Inserted means the format was new and has been registered.
	Inserted InsertOutcome = iota
	// Existing means an identical format was already registered.
	Existing
	// Conflict means a different format is registered under the same ID.
	// The registered value is kept.
	Conflict
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Existing:
		return "existing"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

// ConflictError describes an observation that disagrees with the format
// already registered under its ID.
type ConflictError struct {
	ID       texture.FormatID
	Fields   []string
	Existing *texture.TextureFormat
	Rejected *texture.TextureFormat
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("format %s conflicts with registered value on %s", e.ID, strings.Join(e.Fields, ", "))
}

// Override maps a filename glob to a format.
type Override struct {
	Pattern string           `json:"pattern" cbor:"pattern"`
	ID      texture.FormatID `json:"format" cbor:"format"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	formats   map[texture.FormatID]*texture.TextureFormat
	seq       map[texture.FormatID]int
	order     []texture.FormatID
	lengths   map[int]map[texture.FormatID]struct{}
	overrides []Override
	examples  map[texture.FormatID][]string

	maxExamples int
	logger      hclog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for conflict and load diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMaxExamples sets how many example filenames are kept per format.
func WithMaxExamples(n int) Option {
	return func(r *Registry) {
		r.maxExamples = n
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		formats:     make(map[texture.FormatID]*texture.TextureFormat),
		seq:         make(map[texture.FormatID]int),
		lengths:     make(map[int]map[texture.FormatID]struct{}),
		examples:    make(map[texture.FormatID][]string),
		maxExamples: DefaultMaxExamples,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Logger returns the registry's logger.
func (r *Registry) Logger() hclog.Logger {
	return r.logger
}

// Insert registers f unless its ID is already known. The stored value is
// returned in every case; callers must not modify it.
//
// When the ID is registered with a different layout the outcome is
// Conflict, the error is a *ConflictError and the registered value wins.
// Conflicts are logged but are not fatal to the caller.
func (r *Registry) Insert(f *texture.TextureFormat, example string) (*texture.TextureFormat, InsertOutcome, error) {
	if err := f.Validate(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(f, example)
}

func (r *Registry) insertLocked(f *texture.TextureFormat, example string) (*texture.TextureFormat, InsertOutcome, error) {
	id := f.ID()

	existing, ok := r.formats[id]
	if !ok {
		stored := f.Clone()
		r.formats[id] = stored
		r.seq[id] = len(r.order)
		r.order = append(r.order, id)
		for _, n := range stored.FileLengths() {
			set, ok := r.lengths[n]
			if !ok {
				set = make(map[texture.FormatID]struct{})
				r.lengths[n] = set
			}
			set[id] = struct{}{}
		}
		r.addExampleLocked(id, example)
		r.logger.Debug("registered format", "id", id, "format", stored, "example", example)
		return stored, Inserted, nil
	}

	if existing.SameLayout(f) {
		// formats synthesized from sidecars carry no header until one is observed
		if existing.RawHeader == "" && f.RawHeader != "" {
			updated := existing.Clone()
			updated.RawHeader = f.RawHeader
			r.formats[id] = updated
			existing = updated
		}
		r.addExampleLocked(id, example)
		return existing, Existing, nil
	}

	conflict := &ConflictError{
		ID:       id,
		Fields:   diffFields(existing, f),
		Existing: existing.Clone(),
		Rejected: f.Clone(),
	}
	r.logger.Error("format conflict, keeping registered value",
		"id", id,
		"fields", strings.Join(conflict.Fields, ","),
		"registered", existing,
		"observed", f,
		"example", example)
	return existing, Conflict, conflict
}

func (r *Registry) addExampleLocked(id texture.FormatID, example string) {
	if example == "" {
		return
	}
	list := r.examples[id]
	if len(list) >= r.maxExamples || slices.Contains(list, example) {
		return
	}
	r.examples[id] = append(list, example)
}

func diffFields(a, b *texture.TextureFormat) []string {
	var fields []string
	if a.PixelFormat != b.PixelFormat {
		fields = append(fields, "pixel_format")
	}
	if a.ArraySize != b.ArraySize {
		fields = append(fields, "array_size")
	}
	if !a.Standard.Equal(b.Standard) {
		fields = append(fields, "standard")
	}
	if a.Standard.Mipmaps != b.Standard.Mipmaps {
		fields = append(fields, "mipmaps")
	}
	if a.Standard.DataSize != b.Standard.DataSize {
		fields = append(fields, "data_size")
	}
	if (a.HighRes == nil) != (b.HighRes == nil) || (a.HighRes != nil && *a.HighRes != *b.HighRes) {
		fields = append(fields, "highres")
	}
	return fields
}

// Lookup returns the format registered under id.
func (r *Registry) Lookup(id texture.FormatID) (*texture.TextureFormat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formats[id]
	return f, ok
}

// ByLength returns every format that can produce a file of n bytes, in
// registration order.
func (r *Registry) ByLength(n int) []*texture.TextureFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.lengths[n]
	if len(set) == 0 {
		return nil
	}
	ids := make([]texture.FormatID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b texture.FormatID) int {
		return r.seq[a] - r.seq[b]
	})

	out := make([]*texture.TextureFormat, len(ids))
	for i, id := range ids {
		out[i] = r.formats[id]
	}
	return out
}

// AddOverride appends a filename pattern that resolves to id. Patterns use
// path.Match syntax and are matched against the base name of a file.
// Earlier overrides take precedence.
func (r *Registry) AddOverride(pattern string, id texture.FormatID) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("override pattern %q: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.formats[id]; !ok {
		return fmt.Errorf("override %q: %w %s", pattern, ErrUnknownFormat, id)
	}
	for i, o := range r.overrides {
		if o.Pattern == pattern {
			r.overrides[i].ID = id
			return nil
		}
	}
	r.overrides = append(r.overrides, Override{Pattern: pattern, ID: id})
	return nil
}

// MatchOverride returns the format of the first override matching name.
func (r *Registry) MatchOverride(name string) (*texture.TextureFormat, bool) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.overrides {
		if ok, _ := path.Match(o.Pattern, base); ok {
			f, found := r.formats[o.ID]
			return f, found
		}
	}
	return nil, false
}

// Overrides returns a copy of the override list.
func (r *Registry) Overrides() []Override {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.overrides)
}

// Examples returns the example filenames recorded for id.
func (r *Registry) Examples(id texture.FormatID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.examples[id])
}

// Len returns the number of registered formats.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.formats)
}

// IDs returns every registered ID in registration order.
func (r *Registry) IDs() []texture.FormatID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Lengths returns the sorted file lengths present in the index.
func (r *Registry) Lengths() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.lengths))
	for n := range r.lengths {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
