package gateway

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/scanforge/analysis-gateway/internal/config"
)

// CostCalculator derives the credit cost of a scan from the submitted
// content.
//
// cost = max(1, ceil(size/unit) + languageFactor)
//
// where size is the byte length of the snippet, or its cl100k_base token
// count in token sizing mode.
type CostCalculator struct {
	unit    int
	factors map[string]int
	encoder *tiktoken.Tiktoken
}

// NewCostCalculator builds a calculator from cost config. Token sizing falls
// back to byte sizing when the encoding cannot be loaded.
func NewCostCalculator(cfg config.CostConfig) *CostCalculator {
	c := &CostCalculator{
		unit:    cfg.Unit,
		factors: cfg.LanguageFactors,
	}
	if cfg.Sizing == "tokens" {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("token sizing unavailable, falling back to byte sizing")
		} else {
			c.encoder = enc
		}
	}
	return c
}

// Cost returns the credit cost for a snippet in the given language.
func (c *CostCalculator) Cost(snippet, language string) int64 {
	size := len(snippet)
	if c.encoder != nil {
		size = len(c.encoder.Encode(snippet, nil, nil))
	}

	cost := int64((size + c.unit - 1) / c.unit)
	cost += int64(c.factors[language])
	if cost < 1 {
		cost = 1
	}
	return cost
}
