package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goopsie/texresolve/pkg/header"
	"github.com/goopsie/texresolve/pkg/texture"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print the container header of a file and its format ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) runInfo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := header.Read(f, a.logger.Named("header"))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if h == nil {
		fmt.Fprintf(w, "%s: no container header, %d bytes of payload\n", path, st.Size())
		for _, c := range a.registry.ByLength(int(st.Size())) {
			fmt.Fprintf(w, "  fits %s %s\n", idStyle.Render(c.ID().String()), c)
		}
		return nil
	}

	format := h.Format()
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  Format ID:    %s\n", idStyle.Render(format.ID().String()))
	fmt.Fprintf(w, "  Pixel format: %s (%d)\n", format.PixelFormat, uint32(format.PixelFormat))
	fmt.Fprintf(w, "  Standard:     %s, %d mips, %d bytes\n", format.Standard, format.Standard.Mipmaps, format.Standard.DataSize)
	if format.HighRes != nil {
		fmt.Fprintf(w, "  High-res:     %s, %d mips, %d bytes\n", format.HighRes, format.HighRes.Mipmaps, format.HighRes.DataSize)
	}
	fmt.Fprintf(w, "  Array size:   %d\n", format.ArraySize)
	fmt.Fprintf(w, "  Plane flags:  %#02x\n", h.Block.PlaneFlags)
	fmt.Fprintf(w, "  Data length:  %d (%s)\n", h.File.DataLength, tierName(h))

	if err := format.Validate(); err != nil {
		fmt.Fprintf(w, "  %s\n", warnStyle.Render("! "+err.Error()))
	}
	for _, d := range h.Diagnostics {
		fmt.Fprintf(w, "  %s\n", warnStyle.Render("! "+d.String()))
	}

	registered, ok := a.registry.Lookup(format.ID())
	switch {
	case !ok:
		fmt.Fprintf(w, "  Registry:     %s\n", dimStyle.Render("not registered"))
	case registered.SameLayout(format):
		fmt.Fprintf(w, "  Registry:     registered\n")
	default:
		fmt.Fprintf(w, "  Registry:     %s %s\n", warnStyle.Render("conflicts with"), registered)
	}
	return nil
}

func tierName(h *header.Header) string {
	highRes, ok := h.PayloadTier()
	switch {
	case !ok:
		return "matches no tier"
	case highRes:
		return "high-res tier"
	default:
		return "standard tier"
	}
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file> <format-id>",
		Short: "Compare a file's container header against a registered format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd.OutOrStdout(), args[0], args[1])
		},
	}
}

var errDisagrees = errors.New("header disagrees with format")

func (a *app) runValidate(w io.Writer, path, idText string) error {
	id, err := texture.ParseFormatID(idText)
	if err != nil {
		return err
	}
	belief, ok := a.registry.Lookup(id)
	if !ok {
		return fmt.Errorf("format %s is not registered", id)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h, err := header.Read(f, a.logger.Named("header"))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if h == nil {
		return fmt.Errorf("%s has no container header", path)
	}

	mismatches := header.Compare(h, belief, a.logger.Named("validate"))
	if len(mismatches) == 0 {
		fmt.Fprintf(w, "%s %s matches %s\n", exactStyle.Render("OK"), path, idStyle.Render(id.String()))
		return nil
	}
	for _, m := range mismatches {
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render("MISMATCH"), m)
	}
	return fmt.Errorf("%s: %w on %d fields", path, errDisagrees, len(mismatches))
}
