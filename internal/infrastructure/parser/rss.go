package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"FeedNotifier/internal/domain"
)

// FallbackIDPrefix marks identifiers synthesized from item position.
// They are unique within one parse only.
const FallbackIDPrefix = "pos-"

var sourceIDExpr = regexp.MustCompile(`post-(\d+)`)

type rssItem struct {
	Title       string    `xml:"title"`
	Links       []rssLink `xml:"link"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Categories  []string  `xml:"category"`
	Author      string    `xml:"author"`
	Creator     string    `xml:"creator"` // dc:creator
}

// rssLink matches <link> in any namespace, so atom:link siblings land here too.
type rssLink struct {
	XMLName xml.Name
	Href    string `xml:"href,attr"`
	Text    string `xml:",chardata"`
}

// canonicalLinks orders link candidates: plain RSS <link> text first,
// then namespaced links and href attributes.
func (it rssItem) canonicalLinks() []string {
	var plain, other []string
	for _, l := range it.Links {
		text := strings.TrimSpace(l.Text)
		if l.XMLName.Space == "" && text != "" {
			plain = append(plain, text)
			continue
		}
		if text != "" {
			other = append(other, text)
		}
		if href := strings.TrimSpace(l.Href); href != "" {
			other = append(other, href)
		}
	}
	return append(plain, other...)
}

// Parse converts RSS markup into posts in document order.
//
// The returned slice is never nil. Empty input yields no posts and no error;
// undecodable markup yields the items decoded so far and an error wrapping
// domain.ErrMalformedFeed.
func Parse(raw []byte) ([]domain.Post, error) {
	posts := make([]domain.Post, 0)
	if len(bytes.TrimSpace(raw)) == 0 {
		return posts, nil
	}

	d := xml.NewDecoder(bytes.NewReader(raw))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	var (
		sawRoot bool
		index   int
	)
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return posts, fmt.Errorf("%w: %v", domain.ErrMalformedFeed, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch strings.ToLower(se.Name.Local) {
		case "rss", "rdf", "channel":
			sawRoot = true
		case "item":
			sawRoot = true
			var item rssItem
			if err := d.DecodeElement(&item, &se); err != nil {
				return posts, fmt.Errorf("%w: item %d: %v", domain.ErrMalformedFeed, index+1, err)
			}
			index++
			posts = append(posts, toPost(item, index))
		}
	}

	if !sawRoot {
		return posts, fmt.Errorf("%w: no rss channel found", domain.ErrMalformedFeed)
	}
	return posts, nil
}

func toPost(item rssItem, position int) domain.Post {
	author := strings.TrimSpace(item.Author)
	if author == "" {
		author = strings.TrimSpace(item.Creator)
	}

	var category string
	for _, c := range item.Categories {
		if c = strings.TrimSpace(c); c != "" {
			category = c
			break
		}
	}

	return domain.Post{
		SourceID:    extractSourceID(item.canonicalLinks(), position),
		Title:       orDefault(item.Title, domain.DefaultTitle),
		Body:        htmlText(item.Description),
		PublishedAt: strings.TrimSpace(item.PubDate),
		Category:    orDefault(category, domain.DefaultCategory),
		Author:      orDefault(author, domain.DefaultAuthor),
	}
}

// extractSourceID pulls the numeric post token out of the first link that carries one.
func extractSourceID(links []string, position int) string {
	for _, link := range links {
		if m := sourceIDExpr.FindStringSubmatch(link); len(m) == 2 {
			return m[1]
		}
	}
	return FallbackIDPrefix + strconv.Itoa(position)
}

// IsFallbackID reports whether id was synthesized from item position.
func IsFallbackID(id string) bool {
	return strings.HasPrefix(id, FallbackIDPrefix)
}

func htmlText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func orDefault(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
