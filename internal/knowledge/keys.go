package knowledge

import (
	"regexp"
	"strings"

	"github.com/rcliao/accessmind/internal/patterns"
)

// KeyWords is the number of normalized words kept in a generalization key.
const KeyWords = 4

var (
	percentRe  = regexp.MustCompile(`\d+(?:\.\d+)?\s*%`)
	durationRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:ms|s|m|h|d|w|minutes?|hours?|days?|weeks?)\b`)
	numberRe   = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// GeneralizeKey reduces a pattern description to a key shared by the same
// behaviour observed elsewhere: the counterparty becomes <party>, percentages
// <pct>, durations <time> and other numbers <n>, and only the first few words
// are kept.
func GeneralizeKey(description, counterparty string) string {
	s := strings.ToLower(description)
	if counterparty != "" {
		s = replaceParty(s, counterparty)
	}
	s = percentRe.ReplaceAllString(s, "<pct>")
	s = durationRe.ReplaceAllString(s, "<time>")
	s = numberRe.ReplaceAllString(s, "<n>")

	words := make([]string, 0, KeyWords)
	for _, w := range strings.Fields(s) {
		w = trimWord(w)
		if w == "" {
			continue
		}
		words = append(words, w)
		if len(words) == KeyWords {
			break
		}
	}
	return strings.Join(words, "-")
}

// replaceParty swaps whole words naming the counterparty, in full or
// abbreviated form, for <party>.
func replaceParty(s, counterparty string) string {
	full := strings.ToLower(counterparty)
	short := strings.TrimRight(strings.ToLower(patterns.ShortParty(counterparty)), ".")
	fields := strings.Fields(s)
	for i, f := range fields {
		if w := trimWord(f); w != "" && (w == full || w == short) {
			fields[i] = "<party>"
		}
	}
	return strings.Join(fields, " ")
}

func trimWord(w string) string {
	return strings.Trim(w, "()[]{},.;:!?\"'")
}
