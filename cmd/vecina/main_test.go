package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/opensource-finance/vecina/internal/domain"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestScoreCommand(t *testing.T) {
	t.Run("Single", func(t *testing.T) {
		out, err := runCmd(t, `{"know_buyer":5,"buy_freq":5,"avg_purchase":80000,"psych_organized":5,"psych_plan":5,"distance_km":0.5,"address_verified":true}`, "score")
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}

		var res scoreResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("failed to parse output %q: %v", out, err)
		}
		if !res.Complete {
			t.Error("expected complete application")
		}
		if res.Assessment.Category != domain.CategoryA {
			t.Errorf("expected category A, got %s", res.Assessment.Category)
		}
		if res.Review != nil {
			t.Error("expected no review without --review")
		}
	})

	t.Run("BatchWithReview", func(t *testing.T) {
		out, err := runCmd(t, `[{"know_buyer":3},{"know_buyer":1,"distance_km":80}]`, "score", "--review")
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}

		var res []scoreResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("failed to parse output %q: %v", out, err)
		}
		if len(res) != 2 {
			t.Fatalf("expected 2 results, got %d", len(res))
		}
		for i, r := range res {
			if r.Complete {
				t.Errorf("result %d: expected partial application", i)
			}
			if r.Review == nil || r.Review.RulesEvaluated != 3 {
				t.Errorf("result %d: expected review over 3 rules, got %+v", i, r.Review)
			}
		}
	})

	t.Run("EmptyInput", func(t *testing.T) {
		if _, err := runCmd(t, "  ", "score"); err == nil {
			t.Error("expected error for empty input")
		}
	})
}

func TestConfigCommand(t *testing.T) {
	out, err := runCmd(t, "", "config")
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, "category_thresholds") || !strings.Contains(out, "tier: community") {
		t.Errorf("unexpected config dump:\n%s", out)
	}
}
