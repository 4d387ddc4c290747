package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/nexad/internal/optimize"
	"github.com/dokzlo13/nexad/internal/radio"
	"github.com/dokzlo13/nexad/internal/state"
)

func newPlanCmd() *cobra.Command {
	var (
		targets int
		states  []string
		sets    []string
	)

	cmd := &cobra.Command{
		Use:   "plan [<address>=on|off...]",
		Short: "Show the commands a batch would be sent as, without transmitting",
		Example: strings.TrimSpace(`
  nexad plan --state 0=on,1=on,2=on,3=on --set 0=off --set 1=off
  nexad plan --targets 4 0=on 1=on 2=on 3=on`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.OutOrStdout(), targets, states, append(sets, args...))
		},
	}

	cmd.Flags().IntVar(&targets, "targets", 4, "Number of configured targets (addresses 0..n-1)")
	cmd.Flags().StringSliceVar(&states, "state", nil, "Known prior states, e.g. 0=on,1=off (others unknown)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Requested operation in arrival order, e.g. 2=off (repeatable)")
	return cmd
}

func runPlan(out io.Writer, targets int, states, sets []string) error {
	if targets < 1 || targets > radio.MaxTargets {
		return fmt.Errorf("--targets must be between 1 and %d", radio.MaxTargets)
	}

	addrs := make([]radio.Address, targets)
	for i := range addrs {
		addrs[i] = radio.Address(i)
	}
	prior := state.NewStateVector(addrs)

	for _, s := range states {
		addr, st, err := radio.ParseAssignment(s)
		if err != nil {
			return err
		}
		if _, ok := prior[addr]; !ok {
			return fmt.Errorf("address %s is not one of the %d targets", addr, targets)
		}
		prior[addr] = st
	}

	ops, err := parseOperations(sets)
	if err != nil {
		return err
	}
	plan := optimize.Optimize(prior, radio.Batch(ops))

	fmt.Fprintf(out, "strategy: %s\n", plan.Strategy)
	if plan.Consensus {
		fmt.Fprintf(out, "union: %s\n", radio.OnOff(plan.Union))
	}
	fmt.Fprintf(out, "commands: %d (altered %d)\n", len(plan.Commands), len(plan.Altered))
	for _, c := range plan.Commands {
		fmt.Fprintf(out, "  %s\n", c)
	}
	fmt.Fprintln(out, "result:")
	for _, addr := range plan.NewState.Addresses() {
		fmt.Fprintf(out, "  %s=%s\n", addr, plan.NewState[addr])
	}
	if len(plan.Ignored) > 0 {
		fmt.Fprintf(out, "ignored: %v\n", plan.Ignored)
	}
	return nil
}
