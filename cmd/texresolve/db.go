package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goopsie/texresolve/pkg/registry"
	"github.com/goopsie/texresolve/pkg/texture"
)

func newDBCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the format registry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "List registered formats and overrides",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a.showRegistry(cmd.OutOrStdout())
				return nil
			},
		},
		&cobra.Command{
			Use:   "save [path]",
			Short: "Save the registry (default: the local override file)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.savePath(args)
				if err != nil {
					return err
				}
				return a.saveRegistry(cmd.OutOrStdout(), path)
			},
		},
		newAddOverrideCmd(a),
	)
	return cmd
}

func newAddOverrideCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "add-override <pattern> <format-id>",
		Short: "Resolve files matching pattern to a registered format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := texture.ParseFormatID(args[1])
			if err != nil {
				return err
			}
			if err := a.registry.AddOverride(args[0], id); err != nil {
				return err
			}
			var saveArgs []string
			if out != "" {
				saveArgs = []string{out}
			}
			path, err := a.savePath(saveArgs)
			if err != nil {
				return err
			}
			return a.saveRegistry(cmd.OutOrStdout(), path)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Snapshot to write (default: the local override file)")
	return cmd
}

// savePath returns the explicit path, the local override that was loaded,
// or the local override name in the working directory.
func (a *app) savePath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.loaded.Local != "" {
		return a.loaded.Local, nil
	}
	name := a.cfg.Registry.LocalFile
	if name == "" || name == "-" {
		name = registry.DefaultLocalFile
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, name), nil
}

func (a *app) saveRegistry(w io.Writer, path string) error {
	if err := a.registry.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "Saved %d formats to %s\n", a.registry.Len(), path)
	return nil
}

func (a *app) showRegistry(w io.Writer) {
	fmt.Fprintf(w, "Base: %s\n", a.loaded.Base)
	if a.loaded.Local != "" {
		fmt.Fprintf(w, "Local: %s\n", a.loaded.Local)
	}
	fmt.Fprintf(w, "%d formats, %d indexed lengths\n\n", a.registry.Len(), len(a.registry.Lengths()))

	for _, id := range a.registry.IDs() {
		f, ok := a.registry.Lookup(id)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", idStyle.Render(id.String()), f)
		if examples := a.registry.Examples(id); len(examples) > 0 {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render("e.g. "+strings.Join(examples, ", ")))
		}
	}

	overrides := a.registry.Overrides()
	if len(overrides) == 0 {
		return
	}
	fmt.Fprintf(w, "\nOverrides:\n")
	for _, o := range overrides {
		fmt.Fprintf(w, "  %-24s %s\n", o.Pattern, idStyle.Render(o.ID.String()))
	}
}
