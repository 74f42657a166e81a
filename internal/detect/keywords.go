package detect

import (
	"slices"
	"strings"

	"github.com/MrWong99/hearlink/internal/codec"
)

// KeywordSet is an immutable set of user keywords matched case-insensitively
// against whole tokens.
type KeywordSet struct {
	words map[string]string // lower-case → as configured
}

// ParseKeywords builds a set from a comma-separated list such as
// "fire, doorbell". Blank entries are ignored; duplicates collapse.
func ParseKeywords(csv string) KeywordSet {
	return NewKeywordSet(codec.Tokens(csv)...)
}

// NewKeywordSet builds a set from individual words.
func NewKeywordSet(words ...string) KeywordSet {
	ks := KeywordSet{words: make(map[string]string, len(words))}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		key := strings.ToLower(w)
		if _, dup := ks.words[key]; !dup {
			ks.words[key] = w
		}
	}
	return ks
}

// Contains reports whether token equals a keyword, ignoring case.
func (ks KeywordSet) Contains(token string) bool {
	_, ok := ks.words[strings.ToLower(strings.TrimSpace(token))]
	return ok
}

// Words returns the keywords as configured, sorted.
func (ks KeywordSet) Words() []string {
	out := make([]string, 0, len(ks.words))
	for _, w := range ks.words {
		out = append(out, w)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of keywords.
func (ks KeywordSet) Len() int { return len(ks.words) }

// String returns the keywords joined by ", ".
func (ks KeywordSet) String() string { return strings.Join(ks.Words(), ", ") }

// alarms is the fixed vocabulary recognised regardless of configuration.
var alarms = map[string]string{
	"siren": "siren detected",
	"horn":  "horn detected",
	"boom":  "explosion detected",
}

// AlarmDescription returns the description for a built-in alarm token.
func AlarmDescription(token string) (string, bool) {
	d, ok := alarms[strings.ToLower(strings.TrimSpace(token))]
	return d, ok
}
