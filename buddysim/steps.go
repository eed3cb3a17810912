package main

import (
	"fmt"

	"github.com/itohio/gobuddy/pkg/motion"
	"github.com/spf13/cobra"
)

var axisNames = [motion.NumAxes]string{"x", "y", "z", "e"}

type squareParams struct {
	size    float64
	speed   float64
	accel   float64
	extrude float64
	loops   int
}

// blocks returns loops of a square path starting and ending at the origin,
// extruding on every side.
func (p squareParams) blocks() []motion.Block {
	sides := [][2]float64{{p.size, 0}, {0, p.size}, {-p.size, 0}, {0, -p.size}}
	var out []motion.Block
	for range p.loops {
		for _, s := range sides {
			out = append(out, motion.Block{
				Delta:        [motion.NumAxes]float64{s[0], s[1], 0, p.extrude},
				CruiseSpeed:  p.speed,
				Acceleration: p.accel,
			})
		}
	}
	return out
}

func newStepsCmd(a *app) *cobra.Command {
	var p squareParams
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Generate step events for a square path",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := motion.New(&a.cfg.Motion)
			if err != nil {
				return err
			}

			var steps [motion.NumAxes]int
			var ticks int64
			err = e.Run(p.blocks(), func(ev motion.StepEvent) {
				ticks += int64(ev.Ticks)
				for axis := range motion.NumAxes {
					if ev.Flags&(motion.FlagStepX<<axis) != 0 {
						steps[axis]++
					}
				}
			})
			if err != nil {
				return fmt.Errorf("step generation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-4s %10s %10s %12s\n", "axis", "steps", "position", "position_mm")
			for axis := range motion.NumAxes {
				pos := e.Position(axis)
				fmt.Fprintf(out, "%-4s %10d %10d %12.4f\n",
					axisNames[axis], steps[axis], pos, float64(pos)*e.MMPerStep(axis))
			}

			st := e.Stats()
			fmt.Fprintf(out, "events %d\n", st.Events)
			fmt.Fprintf(out, "blocks %d\n", st.FinishedBlocks)
			fmt.Fprintf(out, "motion_ends %d\n", st.MotionEnds)
			fmt.Fprintf(out, "underruns %d\n", st.Underruns)
			fmt.Fprintf(out, "out_of_order %d\n", st.OutOfOrder)
			fmt.Fprintf(out, "duration_s %.4f\n", float64(ticks)/a.cfg.Motion.TicksPerSecond)
			return nil
		},
	}
	cmd.Flags().Float64Var(&p.size, "size", 20, "Side of the square in mm")
	cmd.Flags().Float64Var(&p.speed, "speed", 100, "Cruise speed in mm/s")
	cmd.Flags().Float64Var(&p.accel, "accel", 2000, "Acceleration in mm/s^2")
	cmd.Flags().Float64Var(&p.extrude, "extrude", 0, "Extruder mm per side")
	cmd.Flags().IntVar(&p.loops, "loops", 1, "Number of squares")
	return cmd
}
