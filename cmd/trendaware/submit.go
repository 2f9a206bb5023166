package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trendaware-backend/internal/models"
	"trendaware-backend/internal/stream"
)

type submitOptions struct {
	title     string
	body      string
	bodyFile  string
	mode      string
	stall     time.Duration
	heartbeat time.Duration
}

func newSubmitCmd(root *rootOptions) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Run the full research and summary pipeline for a note",
		Long: `Submit a titled note, follow the run's progress and print the summary.

The summary is printed to stdout as it streams; progress goes to stderr.
The command exits non-zero when the run fails or the stream breaks off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "Note title (required)")
	cmd.Flags().StringVar(&opts.body, "body", "", "Note body")
	cmd.Flags().StringVar(&opts.bodyFile, "body-file", "", "Read the note body from a file ('-' for stdin)")
	cmd.Flags().StringVar(&opts.mode, "mode", string(models.ModeStream), "Summary mode: stream or batch")
	cmd.Flags().DurationVar(&opts.stall, "stall-timeout", 30*time.Second, "Give up when the stream is silent this long")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 5*time.Second, "Server heartbeat interval")
	cmd.MarkFlagRequired("title")
	return cmd
}

func runSubmit(cmd *cobra.Command, root *rootOptions, opts *submitOptions) error {
	body := opts.body
	if opts.bodyFile != "" {
		data, err := readBodyFile(cmd, opts.bodyFile)
		if err != nil {
			return err
		}
		body = string(data)
	}

	mode, ok := models.ParseSummaryMode(opts.mode)
	if !ok {
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
	defer cancel()

	client := newAPIClient(root)
	resp, err := client.do(ctx, http.MethodPost, "/runs?mode="+url.QueryEscape(string(mode)), models.Submission{
		Title: opts.title,
		Body:  body,
	})
	if err != nil {
		return err
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	streamed := false
	lastStatus := ""

	outcome, err := stream.Consume(ctx, resp.Body, stream.ConsumeOptions{
		RequestID:         resp.Header.Get("X-Run-ID"),
		StallTimeout:      opts.stall,
		HeartbeatInterval: opts.heartbeat,
		OnFrame: func(f models.Frame, _ string) {
			switch {
			case f.PartialSummary != "":
				streamed = true
				fmt.Fprint(out, f.PartialSummary)
			case f.Status != "" && !f.Terminal() && (f.Status != lastStatus || f.Message != ""):
				lastStatus = f.Status
				progress := ""
				if f.Progress != nil {
					progress = fmt.Sprintf(" %.0f%%", *f.Progress)
				}
				fmt.Fprintf(errOut, "[%s%s] %s\n", f.Status, progress, f.Message)
			}
		},
	})
	if err != nil {
		if streamed {
			fmt.Fprintln(out)
		}
		return err
	}
	if outcome.Interrupted {
		return fmt.Errorf("stream ended before the run finished")
	}

	if streamed {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, outcome.Summary)
	}

	if outcome.Fallback {
		fmt.Fprintln(errOut, "note: the AI provider was unavailable; this is a placeholder summary")
	}
	if outcome.WebResearchUsed {
		fmt.Fprintln(errOut, "web research: used")
	}
	if outcome.ResearchID != "" {
		fmt.Fprintln(errOut, "saved as", outcome.ResearchID)
	}
	return nil
}

func readBodyFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
