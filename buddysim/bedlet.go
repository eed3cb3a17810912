package main

import (
	"fmt"
	"io"

	"github.com/itohio/gobuddy/pkg/bedlet"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newBedletCmd(a *app) *cobra.Command {
	var fake bool
	open := func() (bedlet.Client, error) {
		if fake {
			return bedlet.NewFake(), nil
		}
		return bedlet.Dial(&a.cfg.Bedlet)
	}

	cmd := &cobra.Command{
		Use:   "bedlet",
		Short: "Read or write the modular bed registers",
	}
	cmd.PersistentFlags().BoolVar(&fake, "fake", false, "Use an in-memory bed")

	get := &cobra.Command{
		Use:   "get",
		Short: "Print targets, temperatures, currents and faults of every bedlet",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			c, err := open()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, c.Close()) }()
			return printBedlets(cmd.OutOrStdout(), c)
		},
	}

	var (
		temp    float64
		indexes []int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Write target temperatures",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			for _, i := range indexes {
				if i < 0 || i >= bedlet.BedletCount {
					return fmt.Errorf("bedlet index %d outside 0..%d", i, bedlet.BedletCount-1)
				}
			}

			c, err := open()
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, c.Close()) }()

			targets, err := c.ReadTargets()
			if err != nil {
				return err
			}
			if len(indexes) == 0 {
				for i := range bedlet.BedletCount {
					targets.SetCelsius(i, temp)
				}
			}
			for _, i := range indexes {
				targets.SetCelsius(i, temp)
			}
			if err := c.WriteTargets(targets); err != nil {
				return err
			}
			return printBedlets(cmd.OutOrStdout(), c)
		},
	}
	set.Flags().Float64Var(&temp, "temp", 0, "Target temperature in °C")
	set.Flags().IntSliceVar(&indexes, "index", nil, "Bedlet slots to set, all when empty")

	cmd.AddCommand(get, set)
	return cmd
}

func printBedlets(w io.Writer, c bedlet.Client) error {
	targets, err := c.ReadTargets()
	if err != nil {
		return err
	}
	measured, err := c.ReadMeasured()
	if err != nil {
		return err
	}
	currents, err := c.ReadCurrents()
	if err != nil {
		return err
	}
	faults, err := c.ReadFaults()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%-3s %8s %8s %8s  %s\n", "id", "target", "temp", "mA", "fault")
	for i := range bedlet.BedletCount {
		fmt.Fprintf(w, "%-3d %8.1f %8.1f %8d  %s\n",
			i, targets.Celsius(i), measured.Celsius(i), currents[i], faults[i])
	}
	return nil
}
