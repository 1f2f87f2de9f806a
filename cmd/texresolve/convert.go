package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goopsie/texresolve/pkg/codec"
	"github.com/goopsie/texresolve/pkg/convert"
	"github.com/goopsie/texresolve/pkg/scan"
	"github.com/goopsie/texresolve/pkg/texture"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		outputDir string
		formatID  string
	)

	cmd := &cobra.Command{
		Use:   "convert [paths...]",
		Short: "Convert containers to images and images to containers",
		Long: "Resolve each group like scan does, then write its conversion: containers are\n" +
			"decompressed to images, images are encoded into containers behind the cached header.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("output") {
				a.cfg.Scan.OutputDir = outputDir
			}
			return a.runConvert(cmd.Context(), cmd.OutOrStdout(), args, formatID)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory converted files are written to")
	cmd.Flags().StringVar(&formatID, "format", "", "Convert as this registered format instead of the resolved one")
	return cmd
}

func (a *app) runConvert(ctx context.Context, w io.Writer, args []string, formatID string) error {
	paths, err := expandPaths(args)
	if err != nil {
		return err
	}
	tc, err := a.transcoder()
	if err != nil {
		return err
	}
	if tc.Backend() != codec.NativeCodec {
		return fmt.Errorf("convert: %w %s; set codec.backend to native", codec.ErrUnsupported, tc.Backend())
	}

	opts := []convert.Option{convert.WithLogger(a.logger.Named("convert"))}
	if formatID != "" {
		id, err := texture.ParseFormatID(formatID)
		if err != nil {
			return err
		}
		f, ok := a.registry.Lookup(id)
		if !ok {
			return fmt.Errorf("format %s is not registered", id)
		}
		opts = append(opts, convert.WithFormat(f))
	}

	outcomes, err := convert.New(a.resolver(tc), tc, opts...).Run(ctx, paths)
	written, failed := 0, 0
	for i := range outcomes {
		printOutcome(w, &outcomes[i])
		written += len(outcomes[i].Outputs)
		if outcomes[i].Err != nil {
			failed++
		}
	}
	fmt.Fprintf(w, "\n%d files written, %d of %d groups failed\n", written, failed, len(outcomes))

	if err != nil {
		return fmt.Errorf("convert interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d groups failed to convert", failed)
	}
	return nil
}

func printOutcome(w io.Writer, o *convert.Outcome) {
	label := exactStyle.Render("CONVERTED")
	if o.Err != nil {
		label = errorStyle.Render("FAILED")
	}
	fmt.Fprintf(w, "%s %s %s\n", label, o.Result.Group.ID(), dimStyle.Render(o.Result.Side.String()))

	if f := o.Result.Default(); f != nil && o.Result.Kind == scan.ResultCandidates {
		fmt.Fprintf(w, "%s%s\n", indent, warnStyle.Render("! guessed "+f.ID().String()+" from file size"))
	}
	for _, out := range o.Outputs {
		fmt.Fprintf(w, "%s-> %s %s\n", indent, out.Path, dimStyle.Render(out.Format.String()))
	}
	if o.Err != nil {
		for _, line := range strings.Split(o.Err.Error(), "\n") {
			fmt.Fprintf(w, "%s%s\n", indent, line)
		}
	}
}
