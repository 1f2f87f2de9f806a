package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/tidwall/jsonc"

	"github.com/goopsie/texresolve/pkg/archive"
	"github.com/goopsie/texresolve/pkg/texture"
)

// Snapshot is the persisted form of a registry.
//
// Formats are keyed by the hex FormatID. Lengths is written for readers of
// the file; loading re-derives both the IDs and the length index from the
// formats themselves.
type Snapshot struct {
	Formats   map[string]*texture.TextureFormat `json:"formats" cbor:"formats"`
	Lengths   map[int][]texture.FormatID        `json:"lengths" cbor:"lengths"`
	Examples  map[string][]string               `json:"examples,omitempty" cbor:"examples,omitempty"`
	Overrides []Override                        `json:"overrides,omitempty" cbor:"overrides,omitempty"`
}

// SnapshotCodec selects how a snapshot is serialized on disk.
type SnapshotCodec int

const (
	CodecJSON SnapshotCodec = iota
	CodecCBOR
	CodecJSONZstd
	CodecCBORZstd
)

func (c SnapshotCodec) String() string {
	switch c {
	case CodecJSON:
		return "json"
	case CodecCBOR:
		return "cbor"
	case CodecJSONZstd:
		return "json.zst"
	case CodecCBORZstd:
		return "cbor.zst"
	default:
		return fmt.Sprintf("SnapshotCodec(%d)", int(c))
	}
}

// CodecFor picks the codec from a file name extension.
func CodecFor(name string) (SnapshotCodec, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".json.zst"):
		return CodecJSONZstd, nil
	case strings.HasSuffix(lower, ".cbor.zst"):
		return CodecCBORZstd, nil
	case strings.HasSuffix(lower, ".json"):
		return CodecJSON, nil
	case strings.HasSuffix(lower, ".cbor"):
		return CodecCBOR, nil
	default:
		return 0, fmt.Errorf("unsupported snapshot extension %q", filepath.Ext(name))
	}
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	cborEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("registry: CBOR encoder initialization failed: " + err.Error())
	}

	cborDecMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("registry: CBOR decoder initialization failed: " + err.Error())
	}
}

// Snapshot captures the current registry contents.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Snapshot{
		Formats:   make(map[string]*texture.TextureFormat, len(r.formats)),
		Lengths:   make(map[int][]texture.FormatID, len(r.lengths)),
		Examples:  make(map[string][]string, len(r.examples)),
		Overrides: slices.Clone(r.overrides),
	}
	for id, f := range r.formats {
		s.Formats[id.String()] = f.Clone()
	}
	for n, set := range r.lengths {
		ids := make([]texture.FormatID, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b texture.FormatID) int {
			return r.seq[a] - r.seq[b]
		})
		s.Lengths[n] = ids
	}
	for id, list := range r.examples {
		s.Examples[id.String()] = slices.Clone(list)
	}
	return s
}

// Merge adds the contents of s to the registry. Formats are inserted in key
// order; a key that disagrees with the ID derived from its format is logged
// and the derived ID is used. Stored data sizes that disagree with the size
// formula are logged and recomputed. Overrides referencing unknown formats
// are skipped. Merge returns the number of newly inserted formats.
func (r *Registry) Merge(s *Snapshot) int {
	keys := make([]string, 0, len(s.Formats))
	for k := range s.Formats {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, key := range keys {
		f := s.Formats[key]
		if f == nil {
			continue
		}
		f = f.Clone()

		if err := f.Validate(); err != nil {
			r.logger.Warn("snapshot format failed validation, recomputing sizes", "key", key, "error", err)
			f.Recompute()
			if err := f.Validate(); err != nil {
				r.logger.Warn("skipping invalid snapshot format", "key", key, "error", err)
				continue
			}
		}

		id := f.ID()
		if key != id.String() {
			r.logger.Warn("snapshot key disagrees with derived format id", "key", key, "derived", id)
		}

		examples := s.Examples[key]
		_, outcome, _ := r.insertLocked(f, "")
		if outcome == Inserted {
			added++
		}
		for _, e := range examples {
			r.addExampleLocked(id, e)
		}
	}

	for _, o := range s.Overrides {
		if _, err := path.Match(o.Pattern, ""); err != nil {
			r.logger.Warn("skipping invalid override pattern", "pattern", o.Pattern, "error", err)
			continue
		}
		if _, ok := r.formats[o.ID]; !ok {
			r.logger.Warn("skipping override for unknown format", "pattern", o.Pattern, "id", o.ID)
			continue
		}
		if !slices.ContainsFunc(r.overrides, func(x Override) bool { return x.Pattern == o.Pattern }) {
			r.overrides = append(r.overrides, o)
		}
	}

	return added
}

// MarshalSnapshot serializes s with the given codec.
func MarshalSnapshot(s *Snapshot, codec SnapshotCodec) ([]byte, error) {
	switch codec {
	case CodecJSON:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return append(data, '\n'), nil
	case CodecCBOR:
		data, err := cborEncMode.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("marshal cbor: %w", err)
		}
		return data, nil
	case CodecJSONZstd, CodecCBORZstd:
		inner, enc := CodecJSON, archive.EncodingJSON
		if codec == CodecCBORZstd {
			inner, enc = CodecCBOR, archive.EncodingCBOR
		}
		payload, err := MarshalSnapshot(s, inner)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := archive.Encode(&buf, payload, archive.WithEncoding(enc)); err != nil {
			return nil, fmt.Errorf("compress snapshot: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot codec %s", codec)
	}
}

// UnmarshalSnapshot parses a snapshot. Compressed archives are recognised by
// their magic regardless of codec; JSON may contain comments and trailing
// commas.
func UnmarshalSnapshot(data []byte, codec SnapshotCodec) (*Snapshot, error) {
	if archive.IsArchive(data) {
		payload, enc, err := archive.ReadAll(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
		if enc == archive.EncodingCBOR {
			return UnmarshalSnapshot(payload, CodecCBOR)
		}
		return UnmarshalSnapshot(payload, CodecJSON)
	}

	var s Snapshot
	switch codec {
	case CodecCBOR, CodecCBORZstd:
		if err := cborDecMode.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse cbor snapshot: %w", err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
			return nil, fmt.Errorf("parse json snapshot: %w", err)
		}
	}
	return &s, nil
}

// ReadSnapshot reads a snapshot file, choosing the codec from its name.
func ReadSnapshot(path string) (*Snapshot, error) {
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	s, err := UnmarshalSnapshot(data, codec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes the registry to path, choosing the codec from its name. The
// file is written next to its destination and renamed into place.
func (r *Registry) Save(path string) error {
	codec, err := CodecFor(path)
	if err != nil {
		return err
	}
	data, err := MarshalSnapshot(r.Snapshot(), codec)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	r.logger.Info("saved format registry", "path", path, "formats", r.Len(), "codec", codec)
	return nil
}
