// Package query serves recommendation queries against the vector index:
// embed the query once, search one or all semantic views, and merge
// per-view results by max-pooling scores per document.
package query

import (
	"fmt"

	"github.com/c360/bookrec/errors"
	"github.com/c360/bookrec/summarize"
)

// Strategy selects which view, or combination of views, a query searches.
type Strategy string

const (
	// StrategyMulti fans out across every view and max-pools the results.
	StrategyMulti Strategy = "multi"
	// StrategyPlot searches plot summaries only.
	StrategyPlot Strategy = "plot"
	// StrategyThematic searches thematic summaries only.
	StrategyThematic Strategy = "thematic"
	// StrategyCharacter searches character summaries only.
	StrategyCharacter Strategy = "character"
	// StrategyCombined searches the comprehensive overview summaries.
	StrategyCombined Strategy = "combined"
)

// singleView maps the single-view strategies to their view.
var singleView = map[Strategy]summarize.View{
	StrategyPlot:      summarize.ViewPlot,
	StrategyThematic:  summarize.ViewThematic,
	StrategyCharacter: summarize.ViewCharacter,
	StrategyCombined:  summarize.ViewCombined,
}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyMulti, StrategyPlot, StrategyThematic, StrategyCharacter, StrategyCombined:
		return st, nil
	default:
		return "", errors.WrapConfig(errors.ErrInvalidConfig, "Strategy", "ParseStrategy",
			fmt.Sprintf("unknown strategy %q", s))
	}
}

// Strategies lists the accepted strategy names.
func Strategies() []Strategy {
	return []Strategy{StrategyMulti, StrategyPlot, StrategyThematic, StrategyCharacter, StrategyCombined}
}
