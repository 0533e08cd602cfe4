package main

import (
	"fmt"
	"strconv"
	"time"

	"baas/internal/control"
	"baas/internal/types"

	"github.com/spf13/cobra"
)

// parsePoints reads consecutive x y pairs.
func parsePoints(args []string) ([]types.Point, error) {
	if len(args)%2 != 0 {
		return nil, fmt.Errorf("coordinates come in x y pairs, got %d values", len(args))
	}
	pts := make([]types.Point, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		x, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, fmt.Errorf("x %q: %w", args[i], err)
		}
		y, err := strconv.Atoi(args[i+1])
		if err != nil {
			return nil, fmt.Errorf("y %q: %w", args[i+1], err)
		}
		pts = append(pts, types.Point{X: x, Y: y})
	}
	return pts, nil
}

func newClickCmd(a *app) *cobra.Command {
	opts := control.DefaultClickOptions()
	cmd := &cobra.Command{
		Use:   "click X Y",
		Short: "Tap a logical point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pts, err := parsePoints(args)
			if err != nil {
				return err
			}
			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			opts.Jitter = a.cfg.Jitter
			return dev.Control().Click(pts[0], opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.Count, "count", "n", opts.Count, "number of taps")
	f.DurationVar(&opts.Interval, "interval", opts.Interval, "pause between taps")
	f.DurationVar(&opts.PreWait, "pre-wait", opts.PreWait, "pause before the first tap")
	f.DurationVar(&opts.PostWait, "post-wait", opts.PostWait, "pause after the last tap")
	f.StringVar(&opts.Label, "label", "", "name logged with the click")
	return cmd
}

func newLongClickCmd(a *app) *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "long-click X Y",
		Short: "Press and hold a logical point",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pts, err := parsePoints(args)
			if err != nil {
				return err
			}
			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()
			return dev.Control().LongClick(pts[0], d, a.cfg.Jitter)
		},
	}
	cmd.Flags().DurationVarP(&d, "duration", "d", time.Second, "hold time")
	return cmd
}

func newSwipeCmd(a *app) *cobra.Command {
	var d time.Duration
	cmd := &cobra.Command{
		Use:   "swipe X1 Y1 X2 Y2",
		Short: "Drag between two logical points",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pts, err := parsePoints(args)
			if err != nil {
				return err
			}
			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()
			return dev.Control().Swipe(pts[0], pts[1], d, control.SwipeOptions{
				StartJitter: a.cfg.Jitter,
				EndJitter:   a.cfg.Jitter,
			})
		},
	}
	cmd.Flags().DurationVarP(&d, "duration", "d", 300*time.Millisecond, "swipe time")
	return cmd
}
