package telegram

import (
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"FeedNotifier/internal/domain"
)

const maxTitleRunes = 300

// FormatMessage renders a notification for the given parse mode.
func FormatMessage(n domain.Notification, mode tele.ParseMode) string {
	esc := func(s string) string { return s }
	bold := func(s string) string { return s }
	code := func(s string) string { return s }
	if mode == tele.ModeHTML {
		esc = html.EscapeString
		bold = func(s string) string { return "<b>" + s + "</b>" }
		code = func(s string) string { return "<code>" + s + "</code>" }
	}

	var b strings.Builder
	b.WriteString(bold(esc(truncate(n.Title, maxTitleRunes))))

	var meta []string
	for _, v := range []string{n.Category, n.Author, n.PublishedAt} {
		if v = strings.TrimSpace(v); v != "" {
			meta = append(meta, esc(v))
		}
	}
	if len(meta) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(meta, " · "))
	}

	if len(n.Keywords) > 0 {
		kws := make([]string, 0, len(n.Keywords))
		for _, kw := range n.Keywords {
			kws = append(kws, code(esc(kw)))
		}
		b.WriteString("\n\nMatched: ")
		b.WriteString(strings.Join(kws, ", "))
	}

	b.WriteString("\n#")
	b.WriteString(esc(n.PostID))
	return b.String()
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-1]) + "…"
}
