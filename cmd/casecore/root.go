package main

import (
	"errors"
	"fmt"
	"sort"

	"casecore/internal/core"
	"casecore/internal/infra/fieldcrypt"
	"casecore/internal/platform/config"
	"casecore/pkg/domain"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var metricsFile string
	root := &cobra.Command{
		Use:           "casecore",
		Short:         "Operator jobs for the casecore caseload service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write operation metrics in Prometheus text format to this file")

	// run loads the configuration, wires the service and releases it afterwards.
	run := func(cmd *cobra.Command, fn func(cmd *cobra.Command, a *app) error) (err error) {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.close(metricsFile))
		}()
		return fn(cmd, a)
	}

	root.AddCommand(
		newBackfillCmd(run),
		newExportCmd(run),
		newVerifyEncryptionCmd(run),
		newKeygenCmd(),
	)
	return root
}

type runner func(cmd *cobra.Command, fn func(cmd *cobra.Command, a *app) error) error

func newBackfillCmd(run runner) *cobra.Command {
	var months, concurrency int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Synthesise missing age progression events for the recent past",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(cmd *cobra.Command, a *app) error {
				opts := core.BackfillOptions{Months: a.cfg.BackfillMonths, DryRun: dryRun, Concurrency: a.cfg.BackfillConcurrency}
				if cmd.Flags().Changed("months") {
					opts.Months = months
				}
				if cmd.Flags().Changed("concurrency") {
					opts.Concurrency = concurrency
				}
				summary, err := a.svc.BackfillProgressions(cmd.Context(), domain.SystemActor(), opts)
				if err != nil {
					return err
				}
				printSummary(cmd, summary)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&months, "months", core.DefaultBackfillMonths, "size of the historical window in months")
	cmd.Flags().IntVar(&concurrency, "concurrency", core.DefaultBackfillConcurrency, "parallel planning workers")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the events without writing them")
	return cmd
}

func printSummary(cmd *cobra.Command, s core.BackfillSummary) {
	out := cmd.OutOrStdout()
	verb := "created"
	if s.DryRun {
		verb = "would create"
	}
	fmt.Fprintf(out, "children scanned: %d\n", s.ChildrenScanned)
	fmt.Fprintf(out, "skipped (no date of birth): %d\n", s.SkippedNoDOB)
	fmt.Fprintf(out, "skipped (too young): %d\n", s.SkippedTooYoung)
	fmt.Fprintf(out, "events %s: %d\n", verb, s.Created)
	fmt.Fprintf(out, "existing events skipped: %d\n", s.ExistingSkipped)
	fmt.Fprintf(out, "failures: %d\n", s.Failures)
	transitions := make([]string, 0, len(s.Transitions))
	for t := range s.Transitions {
		transitions = append(transitions, t)
	}
	sort.Strings(transitions)
	for _, t := range transitions {
		fmt.Fprintf(out, "  %s: %d\n", t, s.Transitions[t])
	}
}

func newExportCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write reporting exports to the configured blob sink",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "audit",
			Short: "Export the audit trail as JSON Lines",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(cmd *cobra.Command, a *app) error {
					sink, err := a.sink(cmd.Context())
					if err != nil {
						return err
					}
					info, err := a.svc.ExportAuditTrail(cmd.Context(), sink)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s rows, %d bytes)\n", info.Key, info.Metadata["rows"], info.Size)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "progressions",
			Short: "Export age progression events as JSON Lines",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(cmd *cobra.Command, a *app) error {
					sink, err := a.sink(cmd.Context())
					if err != nil {
						return err
					}
					info, err := a.svc.ExportProgressionEvents(cmd.Context(), sink)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s rows, %d bytes)\n", info.Key, info.Metadata["rows"], info.Size)
					return nil
				})
			},
		},
	)
	return cmd
}

func newVerifyEncryptionCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-encryption",
		Short: "Check that personal-data buckets are sealed with the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, func(cmd *cobra.Command, a *app) error {
				report, err := core.VerifyEncryption(cmd.Context(), a.store.PersistentStore)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "cipher enabled: %t\n", report.CipherEnabled)
				names := make([]string, 0, len(report.Buckets))
				for name := range report.Buckets {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(out, "  %s: %s\n", name, report.Buckets[name])
				}
				if pending := report.PendingSeal(); len(pending) > 0 {
					fmt.Fprintf(out, "pending seal on next write: %v\n", pending)
				}
				return nil
			})
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random CASECORE_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := fieldcrypt.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
