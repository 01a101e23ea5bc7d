package domain

// Placeholders applied by the feed parser when an item omits a field.
const (
	DefaultTitle    = "untitled"
	DefaultCategory = "uncategorized"
	DefaultAuthor   = "unknown"
)

// Post is a feed item keyed by the identifier the source assigned to it.
type Post struct {
	SourceID    string
	Title       string
	Body        string
	PublishedAt string
	Category    string
	Author      string
	Matched     bool
}
