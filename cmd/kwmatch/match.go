package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/kwmatch/pkg/types"
)

var (
	matchInput    string
	matchOutput   string
	matchProgress bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run one matching job and print its result",
	Long: `Run one matching job and write the result as JSON.

The input is a JSON object:

  {
    "keywords": ["best red shoes", {"text": "running shoes", "volume": 1900}],
    "pages": [{"url": "https://example.com/shoes", "title": "...", "content": "..."}],
    "config": {"min_score_threshold": 0.25}
  }

"config" is optional and overrides the matching section of the config file.
Interrupting the command cancels the job.`,
	Args: cobra.NoArgs,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().StringVarP(&matchInput, "input", "i", "-", "input JSON file (- for stdin)")
	matchCmd.Flags().StringVarP(&matchOutput, "output", "o", "-", "output JSON file (- for stdout)")
	matchCmd.Flags().BoolVar(&matchProgress, "progress", false, "print progress to stderr")
}

type matchRequest struct {
	Keywords []types.Keyword `json:"keywords"`
	Pages    []types.Page    `json:"pages"`
	Config   json.RawMessage `json:"config"`
}

func readMatchRequest(cmd *cobra.Command) (*matchRequest, error) {
	var r io.Reader = cmd.InOrStdin()
	if matchInput != "-" {
		f, err := os.Open(matchInput)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var req matchRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	return &req, nil
}

func writeResult(cmd *cobra.Command, result *types.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')

	if matchOutput == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(matchOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	req, err := readMatchRequest(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, err := a.cfg.Matching.WithOverrides(req.Config)
	if err != nil {
		return err
	}

	id, err := a.jobs.Submit(req.Keywords, req.Pages, cfg)
	if err != nil {
		return err
	}

	updates, unsubscribe, err := a.jobs.Subscribe(id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	stopCancel := context.AfterFunc(ctx, func() { _ = a.jobs.Cancel(id) })
	defer stopCancel()

	var last types.Job
	for snap := range updates {
		if matchProgress && (snap.Step != last.Step || snap.Status != last.Status) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%3.0f%%] %s %s\n", snap.Progress*100, snap.Status, snap.StepLabel)
		}
		last = snap
	}

	switch last.Status {
	case types.StatusCompleted:
		result, err := a.jobs.Result(id)
		if err != nil {
			return err
		}
		return writeResult(cmd, result)
	case types.StatusCancelled:
		return errors.New("job cancelled")
	default:
		return fmt.Errorf("job %s: %s", last.Status, last.Error)
	}
}
