// Package matcher decides whether a post satisfies a subscriber filter.
package matcher

import (
	"strings"

	"FeedNotifier/internal/domain"
)

const corpusSeparator = " | "

// Corpus builds the lower-cased text a filter is evaluated against.
func Corpus(p domain.Post) string {
	return strings.ToLower(strings.Join([]string{p.Title, p.Body, p.Category, p.Author}, corpusSeparator))
}

// Matches reports whether every keyword slot required by the filter occurs in the post.
// Slot 1 is always required; KeywordCount outside 1..3 never matches.
func Matches(p domain.Post, f domain.Filter) bool {
	return MatchesCorpus(Corpus(p), f)
}

// MatchesCorpus is Matches against a precomputed corpus.
func MatchesCorpus(corpus string, f domain.Filter) bool {
	if f.KeywordCount < 1 || f.KeywordCount > 3 {
		return false
	}
	if !contains(corpus, f.Keyword1) {
		return false
	}
	if f.KeywordCount >= 2 && !contains(corpus, f.Keyword2) {
		return false
	}
	if f.KeywordCount == 3 && !contains(corpus, f.Keyword3) {
		return false
	}
	return true
}

func contains(corpus, keyword string) bool {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return false
	}
	return strings.Contains(corpus, keyword)
}
