package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"trendaware-backend/internal/models"
)

type researchOptions struct {
	title    string
	interval time.Duration
	attempts int
}

func newResearchCmd(root *rootOptions) *cobra.Command {
	opts := &researchOptions{}

	cmd := &cobra.Command{
		Use:   "research",
		Short: "Start background web research for a topic and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "Topic to research (required)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 2*time.Second, "Polling interval")
	cmd.Flags().IntVar(&opts.attempts, "attempts", 15, "Maximum number of polls")
	cmd.MarkFlagRequired("title")
	return cmd
}

func runResearch(cmd *cobra.Command, root *rootOptions, opts *researchOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), root.timeout)
	defer cancel()

	client := newAPIClient(root)
	requestID := uuid.NewString()

	resp, err := client.do(ctx, http.MethodPost, "/research", models.InitiateResearchRequest{
		Title:     opts.title,
		RequestID: requestID,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	fmt.Fprintln(cmd.ErrOrStderr(), "research initiated:", requestID)

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= opts.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := pollResearch(ctx, client, requestID)
		if err != nil {
			return err
		}
		switch st.Status {
		case models.ResearchCompleted:
			if st.Research != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *st.Research)
			}
			return nil
		case models.ResearchFailed:
			return fmt.Errorf("research failed: %s", st.Error)
		case models.ResearchNotFound:
			return errors.New("research request expired or was never recorded")
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "still researching (%d/%d)\n", attempt, opts.attempts)
	}
	return fmt.Errorf("research did not finish after %d polls", opts.attempts)
}

func pollResearch(ctx context.Context, client *apiClient, requestID string) (models.ResearchStatus, error) {
	var st models.ResearchStatus
	resp, err := client.do(ctx, http.MethodGet, "/research?requestId="+url.QueryEscape(requestID), nil)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return models.ResearchStatus{Status: models.ResearchNotFound}, nil
	}
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode research status: %w", err)
	}
	return st, nil
}
