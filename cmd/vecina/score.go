package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/vecina/internal/domain"
	"github.com/opensource-finance/vecina/internal/review"
	"github.com/opensource-finance/vecina/internal/rules"
	"github.com/opensource-finance/vecina/internal/scoring"
)

type scoreResult struct {
	Complete   bool                    `json:"complete"`
	Assessment domain.CreditAssessment `json:"assessment"`
	Review     *domain.Review          `json:"review,omitempty"`
}

func newScoreCmd() *cobra.Command {
	var withReview bool

	cmd := &cobra.Command{
		Use:   "score [file]",
		Short: "Score applications offline",
		Long: `Reads one application or a JSON array of applications from file (or stdin)
and prints the credit assessment of each. Missing fields fall back to the
model's neutral defaults.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			apps, err := readApplications(in)
			if err != nil {
				return err
			}

			var processor *review.Processor
			if withReview {
				engine, err := rules.NewEngine(len(rules.BuiltinRules()))
				if err != nil {
					return err
				}
				defer engine.Close()
				if err := engine.LoadRules(rules.BuiltinRules()); err != nil {
					return err
				}
				processor = review.NewProcessor(engine, cfg.Scoring, cfg.Rules.ReviewThreshold)
			}

			results := make([]scoreResult, 0, len(apps))
			for i, raw := range apps {
				res := scoreResult{
					Complete:   scoring.Complete(raw),
					Assessment: scoring.Evaluate(raw, cfg.Scoring),
				}
				if processor != nil {
					rev, err := processor.Review(cmd.Context(), fmt.Sprintf("offline-%d", i), &res.Assessment)
					if err != nil {
						return fmt.Errorf("review of application %d: %w", i, err)
					}
					res.Review = rev
				}
				results = append(results, res)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if len(results) == 1 {
				return enc.Encode(results[0])
			}
			return enc.Encode(results)
		},
	}

	cmd.Flags().BoolVar(&withReview, "review", false, "run the builtin review rules on each assessment")
	return cmd
}

// readApplications accepts a single JSON object or an array of them.
func readApplications(r io.Reader) ([]domain.RawApplicationInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no application given", domain.ErrInvalidInput)
	}

	if data[0] == '[' {
		var apps []domain.RawApplicationInput
		if err := json.Unmarshal(data, &apps); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return apps, nil
	}

	var app domain.RawApplicationInput
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return []domain.RawApplicationInput{app}, nil
}
