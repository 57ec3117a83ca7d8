package lexical

import (
	"testing"
)

func TestBuildQueryText(t *testing.T) {
	tests := []struct {
		name     string
		phrases  []string
		keywords []string
		want     string
	}{
		{
			name:     "phrases quoted keywords bare",
			phrases:  []string{"machine learning"},
			keywords: []string{"golang", "kubernetes"},
			want:     `"machine learning" OR golang OR kubernetes`,
		},
		{
			name: "empty inputs",
			want: "",
		},
		{
			name:    "embedded quotes stripped",
			phrases: []string{`"payments" infra`},
			want:    `"payments  infra"`,
		},
		{
			name:     "blank entries skipped",
			phrases:  []string{"", "  "},
			keywords: []string{"fintech", ""},
			want:     "fintech",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildQueryText(tt.phrases, tt.keywords); got != tt.want {
				t.Errorf("BuildQueryText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeRanks(t *testing.T) {
	out := normalizeRanks(map[string]float64{"a": 0.08, "b": 0.04, "c": 0.02}, 0.08)
	if out["a"] != 1.0 {
		t.Errorf("best rank = %v, want 1.0", out["a"])
	}
	if out["b"] != 0.5 {
		t.Errorf("rank b = %v, want 0.5", out["b"])
	}
	if out["c"] != 0.25 {
		t.Errorf("rank c = %v, want 0.25", out["c"])
	}
}

func TestNormalizeRanks_ZeroMax(t *testing.T) {
	out := normalizeRanks(map[string]float64{"a": 0}, 0)
	if len(out) != 0 {
		t.Errorf("normalizeRanks with zero max = %v, want empty", out)
	}
}
