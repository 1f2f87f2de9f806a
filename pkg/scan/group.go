// Package scan groups loose input files into texture assets and resolves
// each group to a registered texture format.
package scan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// HighResSuffix marks the high-res tier of an asset.
	HighResSuffix = "_hires"
	// ArraySeparator precedes the array index of one slice of an asset.
	ArraySeparator = "#"
	// SidecarSuffix names the metadata file describing an asset's format.
	SidecarSuffix = ".meta.json"
)

var (
	ErrMixedExtensions  = errors.New("group mixes texture and image files")
	ErrUnknownExtension = errors.New("unrecognized file extension")
)

var textureExtensions = map[string]bool{
	".tex": true,
	".bin": true,
}

var imageExtensions = map[string]bool{
	".dds":  true,
	".png":  true,
	".tga":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
	".jpg":  true,
	".jpeg": true,
}

// Side says which way a group converts.
type Side int

const (
	// TextureSide groups hold container files and convert to images.
	TextureSide Side = iota
	// ImageSide groups hold images and convert to containers.
	ImageSide
)

func (s Side) String() string {
	switch s {
	case TextureSide:
		return "texture"
	case ImageSide:
		return "image"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Name is a file name split into its grouping parts.
type Name struct {
	Stem    string // file name without extension
	Key     string // stem without high-res suffix or array index
	Index   int    // array index, or -1
	HighRes bool
	Ext     string // lower case, with dot
}

// ParseName splits the base name of path. Suffixes are matched
// case-sensitively; the extension is not.
func ParseName(path string) Name {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	n := Name{Stem: stem, Key: stem, Index: -1, Ext: strings.ToLower(ext)}
	if k, ok := strings.CutSuffix(n.Key, HighResSuffix); ok && k != "" {
		n.Key, n.HighRes = k, true
	}
	if i := strings.LastIndex(n.Key, ArraySeparator); i > 0 && isDigits(n.Key[i+1:]) {
		if idx, err := strconv.Atoi(n.Key[i+1:]); err == nil {
			n.Key, n.Index = n.Key[:i], idx
		}
	}
	if !n.HighRes {
		if k, ok := strings.CutSuffix(n.Key, HighResSuffix); ok && k != "" {
			n.Key, n.HighRes = k, true
		}
	}
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GroupKey returns the key sibling files of one asset share.
func GroupKey(path string) string {
	return ParseName(path).Key
}

// Member is one file of a group.
type Member struct {
	Path string
	Name Name
}

// Group is the set of files that make up one asset.
type Group struct {
	Dir     string
	Key     string
	Members []Member
}

// ID identifies the group by directory and key.
func (g *Group) ID() string {
	return filepath.Join(g.Dir, g.Key)
}

// Paths returns the member paths in input order.
func (g *Group) Paths() []string {
	paths := make([]string, len(g.Members))
	for i, m := range g.Members {
		paths[i] = m.Path
	}
	return paths
}

// GroupFiles groups paths by directory and key. Groups and their members
// keep first-seen order; duplicate paths and sidecar files are dropped.
func GroupFiles(paths []string) []*Group {
	var groups []*Group
	byID := make(map[string]*Group)
	seen := make(map[string]bool)

	for _, p := range paths {
		clean := filepath.Clean(p)
		if seen[clean] || strings.HasSuffix(clean, SidecarSuffix) {
			continue
		}
		seen[clean] = true

		name := ParseName(clean)
		dir := filepath.Dir(clean)
		id := filepath.Join(dir, name.Key)
		g, ok := byID[id]
		if !ok {
			g = &Group{Dir: dir, Key: name.Key}
			byID[id] = g
			groups = append(groups, g)
		}
		g.Members = append(g.Members, Member{Path: clean, Name: name})
	}
	return groups
}

// Classify decides the side of g from its members' extensions.
func Classify(g *Group) (Side, error) {
	var textures, images int
	for _, m := range g.Members {
		switch {
		case textureExtensions[m.Name.Ext]:
			textures++
		case imageExtensions[m.Name.Ext]:
			images++
		default:
			return 0, fmt.Errorf("%s: %w %q", filepath.Base(m.Path), ErrUnknownExtension, m.Name.Ext)
		}
	}
	switch {
	case textures > 0 && images > 0:
		return 0, fmt.Errorf("%s: %w", g.Key, ErrMixedExtensions)
	case images > 0:
		return ImageSide, nil
	default:
		return TextureSide, nil
	}
}
