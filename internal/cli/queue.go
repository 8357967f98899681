package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"relief/internal/offlinequeue"
	"relief/internal/offlinequeue/handler"
	"relief/internal/offlinequeue/models"
)

func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <payload.json|->",
		Short: "Save a create-beneficiary payload to the device queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "read payload", err)
			}
			d, err := openDevice(cmd.Context(), cfg, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open device", err)
			}
			defer d.Close()

			entry, err := d.queue.Enqueue(cmd.Context(), payload)
			if err != nil {
				return WrapExitError(ExitCommandError, "enqueue", err)
			}
			return rootOpts.formatter(cmd).Success(entry, fmt.Sprintf("%s\n%s", entry.ID, offlinequeue.SavedOfflineMessage))
		},
	}
}

func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Submit pending entries now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, rootOpts, (*offlinequeue.Queue).Sync)
		},
	}
}

func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Move failed entries back to pending and sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, rootOpts, (*offlinequeue.Queue).RetryFailed)
		},
	}
}

func runSync(cmd *cobra.Command, rootOpts *RootOptions, run func(*offlinequeue.Queue, context.Context) (offlinequeue.Report, error)) error {
	cfg, logger, err := rootOpts.load(cmd)
	if err != nil {
		return err
	}
	d, err := openDevice(cmd.Context(), cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "open device", err)
	}
	defer d.Close()

	report, err := run(d.queue, cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "sync", err)
	}
	if report.Skipped {
		return rootOpts.formatter(cmd).Success(report, "a sync is already running on this device")
	}
	text := fmt.Sprintf("synced %d, rejected %d, still pending %d", report.Synced, report.Rejected, report.Transient)
	if report.Halted {
		text += "\n" + offlinequeue.SessionExpiredMessage
	}
	if err := rootOpts.formatter(cmd).Success(report, text); err != nil {
		return err
	}
	if report.Halted || report.Rejected > 0 {
		return NewExitError(ExitFailure, "some entries need attention")
	}
	return nil
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List queued entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			d, err := openDevice(cmd.Context(), cfg, logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "open device", err)
			}
			defer d.Close()

			entries, err := d.queue.Entries(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "read queue", err)
			}
			st := handler.Status{Entries: entries}
			for _, e := range entries {
				if e.Status == models.StatusFailed {
					st.Failed++
				} else {
					st.Pending++
				}
			}
			return rootOpts.formatter(cmd).Success(st, renderEntries(st))
		},
	}
}

func renderEntries(st handler.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending, %d failed\n", st.Pending, st.Failed)
	if len(st.Entries) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUEUED\tSTATUS\tREASON")
	for _, e := range st.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.QueuedAt.Local().Format(time.DateTime), e.Status, e.FailureReason)
	}
	_ = tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func readPayload(stdin io.Reader, arg string) (json.RawMessage, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(arg)
}
