package pipeline

import "strings"

const (
	DefaultCorpusLimit = 6000
	corpusSeparator    = "\n\n---\n\n"
	snipMarker         = "\n\n[...snip...]\n\n"
)

// TrimCorpus joins references and, when the result exceeds limit runes,
// keeps the first 60% and last 40% around a snip marker.
func TrimCorpus(references []string, limit int) string {
	joined := strings.Join(references, corpusSeparator)
	runes := []rune(joined)
	if limit <= 0 || len(runes) <= limit {
		return joined
	}
	head := limit * 6 / 10
	tail := limit * 4 / 10
	return string(runes[:head]) + snipMarker + string(runes[len(runes)-tail:])
}
