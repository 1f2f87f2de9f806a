package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/scan"
)

const indent = "            "

func newScanCmd(a *app) *cobra.Command {
	var (
		workers   int
		outputDir string
		savePath  string
	)

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Resolve the format of every asset in the given files and directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("workers") {
				a.cfg.Scan.Workers = workers
			}
			if cmd.Flags().Changed("output") {
				a.cfg.Scan.OutputDir = outputDir
			}
			return a.runScan(cmd.Context(), cmd.OutOrStdout(), args, savePath)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "Groups resolved concurrently (default: one per CPU)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory output paths are computed in")
	cmd.Flags().StringVar(&savePath, "save", "", "Save the registry to this path after scanning")
	return cmd
}

// transcoder returns the configured codec. The native backend is served by
// the built-in software codec.
func (a *app) transcoder() (*codec.Transcoder, error) {
	backend := a.cfg.Backend()
	var native codec.Native
	if backend == codec.NativeCodec {
		native = codec.NewSoftware()
	}
	return codec.NewTranscoder(backend, native, a.logger.Named("codec"))
}

func (a *app) resolver(tc *codec.Transcoder) *scan.Resolver {
	return scan.NewResolver(a.registry,
		scan.WithLogger(a.logger.Named("scan")),
		scan.WithOutputDir(a.cfg.Scan.OutputDir),
		scan.WithImageExt(a.cfg.Scan.ImageExt),
		scan.WithTextureExt(a.cfg.Scan.TextureExt),
		scan.WithTranscoder(tc),
	)
}

func (a *app) runScan(ctx context.Context, w io.Writer, args []string, savePath string) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	tc, err := a.transcoder()
	if err != nil {
		return err
	}

	scanner := scan.NewScanner(a.resolver(tc), a.cfg.Scan.Workers)

	before := a.registry.Len()
	counts := make(map[scan.Kind]int)
	failed := 0
	for res := range scanner.Run(ctx, paths) {
		printResult(w, &res)
		counts[res.Kind]++
		if res.Err != nil {
			failed++
		}
	}

	fmt.Fprintf(w, "\n%d exact, %d guessed, %d unknown, %d with errors; %d new formats\n",
		counts[scan.ResultExact], counts[scan.ResultCandidates], counts[scan.ResultUnknown],
		failed, a.registry.Len()-before)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	if savePath != "" {
		if err := a.registry.Save(savePath); err != nil {
			return err
		}
		fmt.Fprintf(w, "Registry saved to %s\n", savePath)
	}
	return nil
}

// expandPaths replaces every directory argument with the regular files
// beneath it.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func printResult(w io.Writer, res *scan.Result) {
	fmt.Fprintf(w, "%s %s %s\n", statusLabel(res), res.Group.ID(), dimStyle.Render(res.Side.String()))

	switch res.Kind {
	case scan.ResultExact:
		fmt.Fprintf(w, "%s%s %s\n", indent, idStyle.Render(res.Format.ID().String()), res.Format)
		for _, p := range res.OutputPaths {
			fmt.Fprintf(w, "%s-> %s\n", indent, dimStyle.Render(p))
		}
	case scan.ResultCandidates:
		for i, f := range res.Candidates {
			mark := ""
			if i == 0 {
				mark = dimStyle.Render(" (default)")
			}
			fmt.Fprintf(w, "%s%d. %s %s%s\n", indent, i+1, idStyle.Render(f.ID().String()), f, mark)
		}
	}

	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "%s%s\n", indent, warnStyle.Render("! "+warning))
	}
	if res.Err != nil {
		for _, line := range strings.Split(res.Err.Error(), "\n") {
			fmt.Fprintf(w, "%s%s\n", indent, line)
		}
	}
}
