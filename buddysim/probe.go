package main

import (
	"fmt"
	"math"
	"time"

	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/hxmux"
	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/itohio/gobuddy/pkg/sensor"
	"github.com/spf13/cobra"
)

// probeMotion is the nozzle path of a probe: a fall at constant speed into a
// bed of given stiffness, a hold at the deepest point and a rise.
type probeMotion struct {
	start     float64 // mm above the bed
	speed     float64 // mm/s
	depth     float64 // mm below the bed where the fall halts
	hold      time.Duration
	stiffness float64 // g/mm
	delay     time.Duration
}

// z returns the nozzle height t after the probe started.
func (p probeMotion) z(t time.Duration) float64 {
	s := t.Seconds()
	if s < 0 {
		return p.start
	}
	fall := (p.start + p.depth) / p.speed
	switch {
	case s < fall:
		return p.start - p.speed*s
	case s < fall+p.hold.Seconds():
		return -p.depth
	default:
		return -p.depth + p.speed*(s-fall-p.hold.Seconds())
	}
}

// load returns the force on the cell. The load cell sees the nozzle later than
// the motion system reports it.
func (p probeMotion) load(t time.Duration) float64 {
	return p.stiffness * math.Max(-p.z(t-p.delay), 0)
}

type filamentDrop struct{}

func (filamentDrop) ProcessSample(int32, hx717.Channel) {}

func newProbeCmd(a *app) *cobra.Command {
	p := probeMotion{delay: 18750 * time.Microsecond}
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Simulate a probe press and analyse it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if p.speed <= 0 || p.stiffness <= 0 {
				return fmt.Errorf("speed and stiffness must be positive")
			}

			lc := loadcell.New(&cfg.Loadcell)
			mock := sensor.NewMock(cfg)
			sim := hx717.NewSim(cfg.HX717.SampleRate, mock.Reading)
			mux := hxmux.New(hx717.New(sim, &cfg.HX717), &cfg.Mux, lc, filamentDrop{})

			// No load until the tare is done.
			var startUs uint32
			pressing := false
			elapsed := func(nowUs uint32) time.Duration {
				return time.Duration(nowUs-startUs) * time.Microsecond
			}
			mock.SetLoad(func(t time.Duration) float64 {
				if !pressing {
					return 0
				}
				return p.load(elapsed(uint32(t / time.Microsecond)))
			})

			tared := make(chan error, 1)
			go func() {
				_, err := lc.Tare(cmd.Context(), loadcell.TareStatic)
				tared <- err
			}()
			for waiting := true; waiting; {
				select {
				case err := <-tared:
					if err != nil {
						return err
					}
					waiting = false
				default:
					mux.Handler(sim.WaitReady())
				}
			}

			lc.EnableHighPrecision()
			defer lc.DisableHighPrecision()
			lc.SetZPosition(func() float32 { return float32(p.z(elapsed(sim.NowUs()))) })
			lc.EnableAnalysis(true)

			startUs = sim.NowUs()
			pressing = true
			window := time.Duration(float64(cfg.Loadcell.AnalysisWindow) / cfg.HX717.SampleRate * float64(time.Second))
			endUs := startUs + uint32(window/time.Microsecond)
			for int32(sim.NowUs()-endUs) < 0 {
				mux.Handler(sim.WaitReady())
			}
			lc.EnableAnalysis(false)

			an := lc.Analysis()
			res := an.Analyse()
			st := lc.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "offset %d\n", lc.Offset())
			fmt.Fprintf(out, "samples %d\n", an.Len())
			fmt.Fprintf(out, "interval_us %.1f\n", an.SamplingInterval()*1e6)
			fmt.Fprintf(out, "undefined %d\n", st.Undefined)
			if res.Good {
				fmt.Fprintf(out, "result good z=%.4f\n", res.Z)
			} else {
				fmt.Fprintf(out, "result bad %s\n", res.Description)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&p.start, "start", 0.8, "Start height above the bed in mm")
	cmd.Flags().Float64Var(&p.speed, "speed", 2, "Probe speed in mm/s")
	cmd.Flags().Float64Var(&p.depth, "depth", 0.1, "Depth below the bed where the fall halts in mm")
	cmd.Flags().DurationVar(&p.hold, "hold", 125*time.Millisecond, "Time held at the deepest point")
	cmd.Flags().Float64Var(&p.stiffness, "stiffness", 1000, "Bed stiffness in g/mm")
	return cmd
}
