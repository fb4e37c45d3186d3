// Package summarize converts long-form documents into bounded semantic view
// summaries using hierarchical map/reduce summarization.
//
// Each configured view (plot, thematic, character, combined) carries its own
// summarization instructions: chunks are digested independently in the map
// phase, digests are joined and reduced, recursively if the joined text is
// still too long, until one summary per view fits the configured bounds.
package summarize

import "fmt"

// View is one semantic lens under which a document is summarized and
// embedded independently.
type View string

const (
	// ViewPlot captures plot events, conflicts and resolutions.
	ViewPlot View = "plot"
	// ViewThematic captures themes, motifs and literary elements.
	ViewThematic View = "thematic"
	// ViewCharacter captures characters, relationships and development.
	ViewCharacter View = "character"
	// ViewCombined captures a comprehensive overview across all lenses.
	ViewCombined View = "combined"
)

// DefaultViews returns the standard view set in indexing order.
func DefaultViews() []View {
	return []View{ViewPlot, ViewThematic, ViewCharacter, ViewCombined}
}

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	switch v {
	case ViewPlot, ViewThematic, ViewCharacter, ViewCombined:
		return true
	}
	return false
}

// Bundle maps each configured view to its finished summary.
// A bundle is only ever complete; partial bundles are never produced.
type Bundle map[View]string

type viewInstruction struct {
	mapFocus string // what to extract from each chunk
	reduce   string // how to condense joined digests into the final summary
}

var viewInstructions = map[View]viewInstruction{
	ViewPlot: {
		mapFocus: "Extract the key plot developments and events in this section: " +
			"what happens, in what order, and how it advances the story.",
		reduce: "Write a comprehensive plot summary covering the major events, " +
			"key conflicts and their resolutions, and how the story unfolds from " +
			"beginning to end. Write clear, engaging prose without meta-commentary.",
	},
	ViewThematic: {
		mapFocus: "Extract the themes, motifs, symbols and ideas present in this " +
			"section, and any social or philosophical commentary.",
		reduce: "Write a thematic analysis exploring the primary themes and their " +
			"development, symbolism and allegorical meanings, and the deeper " +
			"significance of the work. Write clear prose without meta-commentary.",
	},
	ViewCharacter: {
		mapFocus: "Extract the characters appearing in this section: their traits, " +
			"motivations, relationships and how they change.",
		reduce: "Write a character-focused summary covering the main characters and " +
			"their personalities, their relationships and dynamics, and how they " +
			"develop and drive the story. Write clear prose without meta-commentary.",
	},
	ViewCombined: {
		mapFocus: "Summarize this section: plot events, character developments, " +
			"themes, setting and atmosphere, and why the section matters.",
		reduce: "Write a comprehensive overview of the whole work: the complete " +
			"plot, the central characters and their arcs, the major themes, and " +
			"the setting and context. Write clear prose without meta-commentary.",
	},
}

// mapInstruction builds the map-phase prompt for one chunk of a view.
func mapInstruction(v View, index, total int) string {
	return fmt.Sprintf("You are analyzing section %d of %d from a book. %s",
		index+1, total, viewInstructions[v].mapFocus)
}

// reduceInstruction builds the reduce-phase prompt for a view.
func reduceInstruction(v View) string {
	return "Based on the following section summaries from a book: " + viewInstructions[v].reduce
}
