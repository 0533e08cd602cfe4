package main

import (
	"fmt"
	"image/png"
	"os"

	"baas/internal/types"

	"github.com/spf13/cobra"
)

func newScreenshotCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the screen to a PNG file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			var frame types.Frame
			if err := dev.Screenshot(&frame); err != nil {
				return err
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := png.Encode(f, frame.Image()); err != nil {
				f.Close()
				return fmt.Errorf("encode %s: %w", out, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d\n", out, frame.Width, frame.Height)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "screenshot.png", "output file")
	return cmd
}
