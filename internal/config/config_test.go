package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/registry"
	"github.com/goopsie/texresolve/pkg/texture"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Registry.LocalFile != registry.DefaultLocalFile {
		t.Errorf("local file: got %q", cfg.Registry.LocalFile)
	}
	if cfg.Backend() != codec.GenericDecoder {
		t.Errorf("backend: got %s", cfg.Backend())
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
registry:
  path: /srv/formats.cbor.zst
  overrides:
    - pattern: "*_normal.tex"
      format: 1c00800080001234
scan:
  workers: 8
  image_ext: .png
codec:
  backend: native
log:
  level: debug
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Registry.Path != "/srv/formats.cbor.zst" || len(cfg.Registry.Overrides) != 1 {
		t.Errorf("registry: got %+v", cfg.Registry)
	}
	if cfg.Scan.Workers != 8 || cfg.Scan.ImageExt != ".png" {
		t.Errorf("scan: got %+v", cfg.Scan)
	}
	if cfg.Scan.TextureExt != ".tex" || cfg.Registry.LocalFile != registry.DefaultLocalFile {
		t.Error("unset fields should keep their defaults")
	}
	if cfg.Backend() != codec.NativeCodec || cfg.Log.Level != "debug" {
		t.Errorf("got backend=%s level=%s", cfg.Backend(), cfg.Log.Level)
	}
}

func TestEmptyBackendIsGeneric(t *testing.T) {
	cfg, err := Parse([]byte("codec:\n  backend: \"\"\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backend() != codec.GenericDecoder {
		t.Errorf("backend: got %s, want generic", cfg.Backend())
	}
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte(`
registry:
  overrides:
    - pattern: "[bad"
      format: nothex
scan:
  workers: -1
  image_ext: tex
codec:
  backend: opengl
log:
  level: loud
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"registry.overrides[0].pattern",
		"registry.overrides[0].format",
		"scan.workers",
		"must differ",
		"codec.backend",
		"log.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}

	if _, err := Parse([]byte("scan: [")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "texresolve.yaml")
	if err := os.WriteFile(path, []byte("scan:\n  workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("Env", func(t *testing.T) {
		t.Setenv(EnvConfig, path)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Scan.Workers != 3 {
			t.Errorf("workers: got %d", cfg.Scan.Workers)
		}
	})

	t.Run("NoFile", func(t *testing.T) {
		t.Setenv(EnvConfig, "")
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Scan.Workers != 0 {
			t.Errorf("workers: got %d", cfg.Scan.Workers)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestApplyOverrides(t *testing.T) {
	reg := registry.New(registry.WithLogger(hclog.NewNullLogger()))
	f := &texture.TextureFormat{
		PixelFormat: texture.DXGI_FORMAT_BC5_UNORM,
		Standard:    texture.Dimensions{Width: 256, Height: 256, Mipmaps: 6},
		ArraySize:   1,
	}
	f.Recompute()
	if _, _, err := reg.Insert(f, ""); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Registry.Overrides = []Override{
		{Pattern: "*_normal.tex", Format: f.ID().String()},
		{Pattern: "*_mask.tex", Format: "00000000000000ff"},
	}
	if err := cfg.ApplyOverrides(reg); err == nil {
		t.Error("expected error for unknown format")
	}
	if got, ok := reg.MatchOverride("rock_normal.tex"); !ok || got.ID() != f.ID() {
		t.Error("known override not applied")
	}
	if len(reg.Overrides()) != 1 {
		t.Errorf("overrides: got %d, want 1", len(reg.Overrides()))
	}
}
