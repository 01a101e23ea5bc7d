package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Subscriber is a registered recipient of notifications.
type Subscriber struct {
	ID             int64
	ChannelAddress string
	Active         bool
}

// Filter is a conjunctive keyword rule owned by one subscriber.
// KeywordCount declares how many of the leading slots must all match.
type Filter struct {
	ID           int64
	SubscriberID int64
	Active       bool
	KeywordCount int
	Keyword1     string
	Keyword2     string
	Keyword3     string
}

// Keywords returns the non-empty slots covered by KeywordCount, in slot order.
func (f Filter) Keywords() []string {
	slots := []string{f.Keyword1, f.Keyword2, f.Keyword3}
	n := f.KeywordCount
	if n < 1 || n > len(slots) {
		return nil
	}
	out := make([]string, 0, n)
	for _, kw := range slots[:n] {
		if strings.TrimSpace(kw) != "" {
			out = append(out, kw)
		}
	}
	return out
}

// SubscriberFilters groups an active subscriber with its active filters,
// ordered by filter creation.
type SubscriberFilters struct {
	Subscriber Subscriber
	Filters    []Filter
}

// ErrInvalidFilter is returned for filters that can never match.
var ErrInvalidFilter = errors.New("invalid filter")

// Validate enforces that slot 1 is set and every slot covered by KeywordCount is non-empty.
func (f Filter) Validate() error {
	if f.KeywordCount < 1 || f.KeywordCount > 3 {
		return fmt.Errorf("%w: keyword count %d outside 1..3", ErrInvalidFilter, f.KeywordCount)
	}
	if n := len(f.Keywords()); n < f.KeywordCount {
		return fmt.Errorf("%w: %d keywords required, %d set", ErrInvalidFilter, f.KeywordCount, n)
	}
	return nil
}
