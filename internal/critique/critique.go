// ABOUTME: Heuristic parser for free-form reviewer output
// ABOUTME: Extracts a numeric score and the improved content block by keyword matching

// Package critique pulls a score and an improved version out of a reviewer's
// free-text answer. The parse is best-effort: the model is asked for labelled
// sections but nothing guarantees it produces them, so missing pieces fall
// back to a score of 0 and empty improved content.
package critique

import (
	"regexp"
	"strconv"
	"strings"
)

// Result is what Parse could recover from a review
type Result struct {
	Score           int
	ImprovedContent string
}

var (
	scoreMarkers = []string{
		"overall impression",
		"scale",
		"algemene indruk",
		"schaal",
	}
	improvedMarkers = []string{
		"improved version",
		"improved content",
		"verbeterde versie",
		"verbeterde content",
	}
	digitsRe = regexp.MustCompile(`\d+`)
)

// Parse splits text into blank-line separated blocks.
// Score is the first run of digits in the first block naming an overall
// impression or scale. ImprovedContent is the block immediately after the
// first block naming an improved version, verbatim.
func Parse(text string) Result {
	blocks := strings.Split(text, "\n\n")

	var res Result
	if i := findBlock(blocks, scoreMarkers); i >= 0 {
		if m := digitsRe.FindString(blocks[i]); m != "" {
			if n, err := strconv.Atoi(m); err == nil {
				res.Score = n
			}
		}
	}
	if i := findBlock(blocks, improvedMarkers); i >= 0 && i+1 < len(blocks) {
		res.ImprovedContent = blocks[i+1]
	}
	return res
}

func findBlock(blocks, markers []string) int {
	for i, b := range blocks {
		lower := strings.ToLower(b)
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return i
			}
		}
	}
	return -1
}
