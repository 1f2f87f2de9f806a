package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/tidwall/jsonc"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/header"
	"github.com/goopsie/texresolve/pkg/registry"
	"github.com/goopsie/texresolve/pkg/texture"
)

// GuessedFromSize is the warning attached to every result that rests on the
// length index alone.
const GuessedFromSize = "guessed from file size"

// State is how far resolution of one file got.
type State int

const (
	Unknown State = iota
	KnownExact
	KnownCandidates
	KnownNone
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case KnownExact:
		return "exact"
	case KnownCandidates:
		return "candidates"
	case KnownNone:
		return "none"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Source is the evidence a file resolution rests on.
type Source int

const (
	SourceNone Source = iota
	SourceHeader
	SourceSidecar
	SourceOverride
	SourceLength
)

func (s Source) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceHeader:
		return "header"
	case SourceSidecar:
		return "sidecar"
	case SourceOverride:
		return "override"
	case SourceLength:
		return "length"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// FileResolution is the outcome of resolving one file.
type FileResolution struct {
	Path    string
	State   State
	Source  Source
	Formats []*texture.TextureFormat
	// HighRes reports which tier the file holds.
	HighRes bool
	// Headered is set when the file starts with a container header.
	Headered bool
	Warnings []string
	Err      error
}

// Kind is the classification of a resolved group.
type Kind int

const (
	ResultUnknown Kind = iota
	ResultExact
	ResultCandidates
)

func (k Kind) String() string {
	switch k {
	case ResultUnknown:
		return "unknown"
	case ResultExact:
		return "exact"
	case ResultCandidates:
		return "candidates"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the resolution of one group.
//
// An exact result carries Format and the paths conversion would write.
// A candidates result lists every format the group's file lengths fit, the
// first being the default choice.
type Result struct {
	Index       int
	Group       *Group
	Side        Side
	Kind        Kind
	Format      *texture.TextureFormat
	Candidates  []*texture.TextureFormat
	OutputPaths []string
	Files       []FileResolution
	Warnings    []string
	Err         error
}

// Default returns the exact format, the first candidate, or nil.
func (res *Result) Default() *texture.TextureFormat {
	switch res.Kind {
	case ResultExact:
		return res.Format
	case ResultCandidates:
		return res.Candidates[0]
	}
	return nil
}

// Resolver resolves files and groups against a registry. It registers the
// formats it discovers in container headers and sidecars.
type Resolver struct {
	registry   *registry.Registry
	transcoder *codec.Transcoder
	logger     hclog.Logger
	outputDir  string
	imageExt   string
	textureExt string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger. The registry's logger is used otherwise.
func WithLogger(logger hclog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithOutputDir sets the directory output paths are computed in. By
// default each group's own directory is used.
func WithOutputDir(dir string) ResolverOption {
	return func(r *Resolver) {
		r.outputDir = dir
	}
}

// WithImageExt sets the extension of images written from containers.
func WithImageExt(ext string) ResolverOption {
	return func(r *Resolver) {
		r.imageExt = normalizeExt(ext)
	}
}

// WithTextureExt sets the extension of containers written from images.
func WithTextureExt(ext string) ResolverOption {
	return func(r *Resolver) {
		r.textureExt = normalizeExt(ext)
	}
}

// WithTranscoder enables the image dimension cross-check for image-side
// groups.
func WithTranscoder(t *codec.Transcoder) ResolverOption {
	return func(r *Resolver) {
		r.transcoder = t
	}
}

func normalizeExt(ext string) string {
	if ext == "" || strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

// NewResolver returns a resolver backed by reg.
func NewResolver(reg *registry.Registry, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry:   reg,
		imageExt:   ".dds",
		textureExt: ".tex",
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = reg.Logger().Named("scan")
	}
	return r
}

// Registry returns the registry the resolver reads and extends.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

func (r *Resolver) fileWarn(fr *FileResolution, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fr.Warnings = append(fr.Warnings, msg)
	r.logger.Warn(msg, "path", fr.Path)
}

func (r *Resolver) groupWarn(res *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	res.Warnings = append(res.Warnings, msg)
	r.logger.Warn(msg, "group", res.Group.ID())
}

// ResolveFile resolves one file. The first of these that succeeds wins:
// the container header, the group's sidecar, a filename override, and the
// length index. Only the last can yield more than one format.
func (r *Resolver) ResolveFile(path string) FileResolution {
	fr := FileResolution{Path: path, State: Unknown}
	name := ParseName(path)
	fr.HighRes = name.HighRes

	file, err := os.Open(path)
	if err != nil {
		fr.State, fr.Err = KnownNone, fmt.Errorf("open: %w", err)
		return fr
	}
	defer file.Close()

	st, err := file.Stat()
	if err != nil {
		fr.State, fr.Err = KnownNone, fmt.Errorf("stat: %w", err)
		return fr
	}
	size := int(st.Size())

	h, err := header.Read(file, r.logger.With("path", path))
	if err != nil {
		r.fileWarn(&fr, "unusable container header: %v", err)
	}

	sidecarPath := filepath.Join(filepath.Dir(path), name.Key+SidecarSuffix)
	sidecar, err := readSidecar(sidecarPath)
	if err != nil {
		r.fileWarn(&fr, "ignoring sidecar %s: %v", filepath.Base(sidecarPath), err)
	}

	if h != nil && r.resolveHeader(&fr, h, size, sidecar) {
		return fr
	}

	if sidecar != nil {
		f := r.register(&fr, sidecar, filepath.Base(path))
		fr.State, fr.Source, fr.Formats = KnownExact, SourceSidecar, []*texture.TextureFormat{f}
		fr.HighRes = tierForLength(f, size, fr.HighRes)
		return fr
	}

	if f, ok := r.registry.MatchOverride(path); ok {
		fr.State, fr.Source, fr.Formats = KnownExact, SourceOverride, []*texture.TextureFormat{f}
		fr.HighRes = tierForLength(f, size, fr.HighRes)
		return fr
	}

	if candidates := r.registry.ByLength(size); len(candidates) > 0 {
		fr.State, fr.Source, fr.Formats = KnownCandidates, SourceLength, candidates
		fr.HighRes = tierForLength(candidates[0], size, fr.HighRes)
		return fr
	}

	fr.State = KnownNone
	return fr
}

// resolveHeader registers the format a header describes. It reports false
// when the header cannot be used and resolution should fall through.
func (r *Resolver) resolveHeader(fr *FileResolution, h *header.Header, size int, sidecar *texture.TextureFormat) bool {
	fr.Headered = true
	for _, d := range h.Diagnostics {
		fr.Warnings = append(fr.Warnings, d.String())
	}

	observed := h.Format()
	stored, _, err := r.registry.Insert(observed, filepath.Base(fr.Path))
	var conflict *registry.ConflictError
	switch {
	case errors.As(err, &conflict):
		r.fileWarn(fr, "header conflicts with registered format %s on %s, using registered value",
			conflict.ID, strings.Join(conflict.Fields, ","))
	case err != nil:
		r.fileWarn(fr, "header describes no usable format: %v", err)
		return false
	}

	fr.State, fr.Source, fr.Formats = KnownExact, SourceHeader, []*texture.TextureFormat{stored}
	if highRes, ok := h.PayloadTier(); ok {
		fr.HighRes = highRes
	}

	if guesses := r.registry.ByLength(size); len(guesses) > 0 && !containsFormat(guesses, stored) {
		r.fileWarn(fr, "header format %s disagrees with size guess %s, using header", stored.ID(), guesses[0].ID())
	}
	if sidecar != nil && !sidecar.SameLayout(stored) {
		r.fileWarn(fr, "sidecar format %s disagrees with header format %s, using header", sidecar.ID(), stored.ID())
	}
	return true
}

func (r *Resolver) register(fr *FileResolution, f *texture.TextureFormat, example string) *texture.TextureFormat {
	stored, _, err := r.registry.Insert(f, example)
	if err != nil {
		r.fileWarn(fr, "%v", err)
	}
	if stored == nil {
		return f
	}
	return stored
}

// tierForLength reports whether a file of size bytes holds the high-res
// tier of f, or fallback when its length fits neither tier.
func tierForLength(f *texture.TextureFormat, size int, fallback bool) bool {
	if f.HighRes != nil && (size == f.HighRes.DataSize || size == f.HighRes.DataSize+texture.ContainerHeaderSize) {
		return true
	}
	if size == f.Standard.DataSize || size == f.Standard.DataSize+texture.ContainerHeaderSize {
		return false
	}
	return fallback
}

func containsFormat(list []*texture.TextureFormat, f *texture.TextureFormat) bool {
	id := f.ID()
	return slices.ContainsFunc(list, func(g *texture.TextureFormat) bool { return g.ID() == id })
}

func appendUnique(list []*texture.TextureFormat, formats ...*texture.TextureFormat) []*texture.TextureFormat {
	for _, f := range formats {
		if !containsFormat(list, f) {
			list = append(list, f)
		}
	}
	return list
}

// ParseSidecar parses a sidecar document: one TextureFormat record, with
// comments allowed. Omitted mip counts and array size take their defaults
// and data sizes are always derived.
func ParseSidecar(data []byte) (*texture.TextureFormat, error) {
	var f texture.TextureFormat
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	if f.ArraySize == 0 {
		f.ArraySize = 1
	}
	if f.Standard.Mipmaps == 0 {
		f.Standard.Mipmaps = texture.MipLevels(f.Standard, false)
	}
	if f.HighRes != nil && f.HighRes.Mipmaps == 0 {
		f.HighRes.Mipmaps = texture.MipLevels(*f.HighRes, true)
	}
	f.Recompute()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("sidecar: %w", err)
	}
	return &f, nil
}

func readSidecar(path string) (*texture.TextureFormat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseSidecar(data)
}

// ResolveGroup classifies g and resolves it. Errors confined to single
// files are joined into Err and do not stop the rest of the group.
func (r *Resolver) ResolveGroup(g *Group) Result {
	res := Result{Group: g}

	side, err := Classify(g)
	if err != nil {
		res.Err = err
		r.logger.Warn("skipping group", "group", g.ID(), "error", err)
		return res
	}
	res.Side = side

	switch side {
	case ImageSide:
		r.resolveImageGroup(&res)
	default:
		for _, m := range g.Members {
			res.Files = append(res.Files, r.ResolveFile(m.Path))
		}
		r.combine(&res)
		if res.Kind == ResultExact {
			res.OutputPaths = r.imagePaths(g, res.Format)
		}
	}
	return res
}

// combine folds the file resolutions of res into a group result.
func (r *Resolver) combine(res *Result) {
	var exact, candidates []*texture.TextureFormat
	var errs []error

	for i := range res.Files {
		fr := &res.Files[i]
		base := filepath.Base(fr.Path)
		for _, w := range fr.Warnings {
			res.Warnings = append(res.Warnings, base+": "+w)
		}
		if fr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, fr.Err))
			continue
		}
		switch fr.State {
		case KnownExact:
			exact = appendUnique(exact, fr.Formats[0])
		case KnownCandidates:
			candidates = appendUnique(candidates, fr.Formats...)
		}
	}
	res.Err = errors.Join(errs...)

	switch {
	case len(exact) > 0:
		if len(exact) > 1 {
			ids := make([]string, len(exact))
			for i, f := range exact {
				ids[i] = f.ID().String()
			}
			r.groupWarn(res, "group members resolve to different formats %s, using the first", strings.Join(ids, ", "))
		}
		res.Kind, res.Format = ResultExact, exact[0]
		for _, fr := range res.Files {
			if fr.State == KnownCandidates && !containsFormat(fr.Formats, res.Format) {
				r.groupWarn(res, "%s: length does not fit format %s", filepath.Base(fr.Path), res.Format.ID())
			}
		}
	case len(candidates) > 0:
		res.Kind, res.Candidates = ResultCandidates, candidates
		r.groupWarn(res, GuessedFromSize)
	default:
		res.Kind = ResultUnknown
	}
}

// resolveImageGroup resolves an image group from its sidecar, or from the
// container files it would be written over.
func (r *Resolver) resolveImageGroup(res *Result) {
	g := res.Group

	sidecarPath := filepath.Join(g.Dir, g.Key+SidecarSuffix)
	sidecar, err := readSidecar(sidecarPath)
	if err != nil {
		r.groupWarn(res, "ignoring sidecar %s: %v", filepath.Base(sidecarPath), err)
	}

	if sidecar != nil {
		fr := FileResolution{Path: sidecarPath, State: KnownExact, Source: SourceSidecar}
		fr.Formats = []*texture.TextureFormat{r.register(&fr, sidecar, g.Key+r.textureExt)}
		res.Files = append(res.Files, fr)
	} else {
		for _, name := range []string{g.Key + r.textureExt, g.Key + HighResSuffix + r.textureExt} {
			companion := filepath.Join(g.Dir, name)
			if _, err := os.Stat(companion); err != nil {
				continue
			}
			res.Files = append(res.Files, r.ResolveFile(companion))
		}
	}

	r.combine(res)
	if f := res.Default(); f != nil {
		r.checkImages(res, f)
	}
	if res.Kind == ResultExact {
		res.OutputPaths = r.texturePaths(g, res.Format)
	}
}

// checkImages compares the dimensions of every image in the group against
// the tier it will be written as.
func (r *Resolver) checkImages(res *Result, f *texture.TextureFormat) {
	if r.transcoder == nil {
		return
	}
	for _, m := range res.Group.Members {
		base := filepath.Base(m.Path)
		info, err := r.transcoder.Metadata(m.Path)
		if err != nil {
			r.groupWarn(res, "%s: read image metadata: %v", base, err)
			continue
		}
		want, ok := f.Tier(m.Name.HighRes)
		if !ok {
			r.groupWarn(res, "%s: format %s has no high-res tier", base, f.ID())
			continue
		}
		if !info.Dimensions().Equal(want) {
			r.groupWarn(res, "%s: image is %s, format %s expects %s", base, info.Dimensions(), f.ID(), want)
		}
	}
}

func (r *Resolver) outDir(dir string) string {
	if r.outputDir != "" {
		return r.outputDir
	}
	return dir
}

// imagePaths names the images a texture group converts to. A member that
// packs a whole array is split into one image per slice.
func (r *Resolver) imagePaths(g *Group, f *texture.TextureFormat) []string {
	dir := r.outDir(g.Dir)
	var paths []string
	for _, m := range g.Members {
		if f.ArraySize > 1 && m.Name.Index < 0 {
			for i := range f.ArraySize {
				paths = append(paths, filepath.Join(dir, fmt.Sprintf("%s%s%d%s", m.Name.Stem, ArraySeparator, i, r.imageExt)))
			}
			continue
		}
		paths = append(paths, filepath.Join(dir, m.Name.Stem+r.imageExt))
	}
	return paths
}

// OutputPaths names the files a group on side converts to as f.
func (r *Resolver) OutputPaths(g *Group, side Side, f *texture.TextureFormat) []string {
	if side == ImageSide {
		return r.texturePaths(g, f)
	}
	return r.imagePaths(g, f)
}

// texturePaths names the containers an image group converts to.
func (r *Resolver) texturePaths(g *Group, f *texture.TextureFormat) []string {
	dir := r.outDir(g.Dir)
	paths := []string{filepath.Join(dir, g.Key+r.textureExt)}
	if f.HighRes != nil {
		paths = append(paths, filepath.Join(dir, g.Key+HighResSuffix+r.textureExt))
	}
	return paths
}
