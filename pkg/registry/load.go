package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// DefaultLocalFile is the name of the local override snapshot searched for
// next to the working directory and the executable.
const DefaultLocalFile = "texresolve-formats.json"

//go:embed defaults.json
var bundledDefaults []byte

// LoadOptions controls where Load reads formats from.
type LoadOptions struct {
	// Path replaces the bundled defaults when set.
	Path string
	// LocalFile is the override snapshot name. Empty means DefaultLocalFile;
	// "-" disables the local override.
	LocalFile string
	// SearchDirs overrides the directories searched for LocalFile. The
	// default is the working directory, then the executable's directory.
	SearchDirs []string
	Logger     hclog.Logger
}

// Loaded describes the sources a registry was built from.
type Loaded struct {
	Base  string // "bundled" or the path of the base snapshot
	Local string // path of the merged local override, if any
}

// Load builds a registry from the base snapshot merged with the first local
// override file found.
func Load(opts LoadOptions) (*Registry, Loaded, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := New(WithLogger(logger))
	var loaded Loaded

	if opts.Path != "" {
		s, err := ReadSnapshot(opts.Path)
		if err != nil {
			return nil, loaded, fmt.Errorf("load registry: %w", err)
		}
		n := r.Merge(s)
		loaded.Base = opts.Path
		logger.Debug("loaded base registry", "path", opts.Path, "formats", n)
	} else {
		s, err := UnmarshalSnapshot(bundledDefaults, CodecJSON)
		if err != nil {
			return nil, loaded, fmt.Errorf("load bundled registry: %w", err)
		}
		n := r.Merge(s)
		loaded.Base = "bundled"
		logger.Debug("loaded bundled registry", "formats", n)
	}

	if opts.LocalFile == "-" {
		return r, loaded, nil
	}
	local, err := findLocal(opts)
	if err != nil {
		return nil, loaded, err
	}
	if local == "" {
		return r, loaded, nil
	}

	s, err := ReadSnapshot(local)
	if err != nil {
		return nil, loaded, fmt.Errorf("load local registry: %w", err)
	}
	n := r.Merge(s)
	loaded.Local = local
	logger.Info("merged local format registry", "path", local, "new_formats", n)

	return r, loaded, nil
}

func findLocal(opts LoadOptions) (string, error) {
	name := opts.LocalFile
	if name == "" {
		name = DefaultLocalFile
	}

	dirs := opts.SearchDirs
	if dirs == nil {
		if wd, err := os.Getwd(); err == nil {
			dirs = append(dirs, wd)
		}
		if exe, err := os.Executable(); err == nil {
			dirs = append(dirs, filepath.Dir(exe))
		}
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", nil
}
