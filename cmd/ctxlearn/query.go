package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

const timeLayout = "2006-01-02 15:04"

func newStatsCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print store statistics",
		Long: `Print store counters. The text format is the Prometheus exposition
format, including hook counters for this process; json prints the raw
counters.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			eng, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			if format == "json" {
				st, err := eng.store.Stats(ctx)
				if err != nil {
					return err
				}
				return writeJSON(a.stdout, st)
			}
			return eng.metrics.WriteText(a.stdout)
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

type listFlags struct {
	format        string
	limit         int
	minConfidence float64
}

func (f *listFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "maximum rows (0 for all)")
	cmd.Flags().Float64Var(&f.minConfidence, "min-confidence", 0, "minimum confidence")
}

func newPatternsCmd(a *app) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "patterns [context-filter]",
		Short: "List learned patterns, most confident first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(f.format); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			patterns, err := st.GetPatterns(ctx, firstArg(args), f.minConfidence, f.limit)
			if err != nil {
				return err
			}
			if f.format == "json" {
				return writeJSON(a.stdout, patterns)
			}
			return writePatterns(a.stdout, patterns)
		},
	}
	f.register(cmd, 20)
	return cmd
}

func writePatterns(w io.Writer, patterns []memory.Pattern) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCONFIDENCE\tSEEN\tLAST\tLAST SEEN\tCONTEXT")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%s\t%s\t%s\n",
			p.Key, p.Confidence, p.OccurrenceCount, p.LastOutcome, p.LastSeen.Local().Format(timeLayout), p.Context)
	}
	return tw.Flush()
}

func newFailuresCmd(a *app) *cobra.Command {
	var f listFlags
	cmd := &cobra.Command{
		Use:   "failures [task-filter]",
		Short: "List recent failures, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(f.format); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			failures, err := st.GetRecentFailures(ctx, firstArg(args), f.limit)
			if err != nil {
				return err
			}
			if f.format == "json" {
				return writeJSON(a.stdout, failures)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTASK\tOCCURRED\tERROR")
			for _, fl := range failures {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
					fl.ID, fl.Task, fl.OccurredAt.Local().Format(timeLayout), oneLine(fl.ErrorMessage))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "text", "output format: text or json")
	cmd.Flags().IntVar(&f.limit, "limit", 20, "maximum rows (0 for all)")
	return cmd
}

func newConsolidateCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Prune unreliable, stale patterns now",
		Long: `Delete patterns whose confidence stayed low after repeated use and that
have not been seen within the retention window. Session end runs this
automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			job := consolidation.NewJob(st, a.cfg.Consolidation.Job(), a.logger.Underlying().Named("consolidation"))
			res, err := job.Run(ctx)
			if err != nil {
				return err
			}
			a.logger.Info(ctx, "consolidation finished", zap.Int("deleted", len(res.Deleted)))

			if format == "json" {
				return writeJSON(a.stdout, res)
			}
			if len(res.Deleted) == 0 {
				_, err = fmt.Fprintln(a.stdout, "Nothing to prune.")
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "Pruned %d patterns: %s\n", len(res.Deleted), strings.Join(res.Deleted, ", "))
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")
	return cmd
}

func newCausalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causal",
		Short: "Record and list cause/effect links between patterns",
	}

	var outcome string
	add := &cobra.Command{
		Use:   "add <cause> <effect>",
		Short: "Record that cause led to effect",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := memory.ParseOutcome(outcome)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			link, err := st.UpsertCausalLink(ctx, args[0], args[1], o)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.stdout, "%s -> %s: confidence %.2f (seen %d)\n",
				link.Cause, link.Effect, link.Confidence, link.OccurrenceCount)
			return err
		},
	}
	add.Flags().StringVar(&outcome, "outcome", "success", "outcome of the effect: success or failure")

	var f listFlags
	list := &cobra.Command{
		Use:   "list [cause-filter]",
		Short: "List causal links, most confident first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(f.format); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			links, err := st.GetCausalLinks(ctx, firstArg(args), f.minConfidence, f.limit)
			if err != nil {
				return err
			}
			if f.format == "json" {
				return writeJSON(a.stdout, links)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CAUSE\tEFFECT\tCONFIDENCE\tSEEN\tLAST SEEN")
			for _, l := range links {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\n",
					l.Cause, l.Effect, l.Confidence, l.OccurrenceCount, l.LastSeen.Local().Format(timeLayout))
			}
			return tw.Flush()
		},
	}
	f.register(list, 20)

	cmd.AddCommand(add, list)
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// oneLine collapses whitespace so multi-line errors fit a table row.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
