package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scanforge/analysis-gateway/internal/config"
)

func TestCostCalculatorByteSizing(t *testing.T) {
	calc := NewCostCalculator(config.CostConfig{
		Unit:            1024,
		Sizing:          "bytes",
		LanguageFactors: map[string]int{"cpp": 2, "go": 0},
	})

	tests := []struct {
		name     string
		snippet  string
		language string
		want     int64
	}{
		{"tiny snippet floors at one credit", "x", "go", 1},
		{"exactly one unit", strings.Repeat("a", 1024), "go", 1},
		{"one byte over rounds up", strings.Repeat("a", 1025), "go", 2},
		{"language factor added", strings.Repeat("a", 1024), "cpp", 3},
		{"unknown language has no factor", strings.Repeat("a", 2048), "zig", 2},
		{"factor alone still floors at one", "x", "cpp", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, calc.Cost(tt.snippet, tt.language))
		})
	}
}

func TestCostCalculatorTokenSizing(t *testing.T) {
	calc := NewCostCalculator(config.CostConfig{Unit: 4, Sizing: "tokens"})
	if calc.encoder == nil {
		t.Skip("cl100k_base encoding unavailable offline")
	}

	// Identical text costs the same regardless of sizing backend details;
	// more tokens must never cost less.
	short := calc.Cost("hello world", "go")
	long := calc.Cost(strings.Repeat("hello world ", 50), "go")
	assert.GreaterOrEqual(t, long, short)
	assert.GreaterOrEqual(t, short, int64(1))
}
