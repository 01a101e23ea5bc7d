package domain

// ObligationStatus enumerates the delivery lifecycle. Sent and Failed are terminal.
type ObligationStatus string

const (
	StatusPending ObligationStatus = "pending"
	StatusSent    ObligationStatus = "sent"
	StatusFailed  ObligationStatus = "failed"
)

// ObligationKey uniquely identifies a delivery obligation.
type ObligationKey struct {
	SubscriberID int64
	PostID       string
	FilterID     int64
}

// Obligation records that a subscriber must be told about a post because a filter matched.
type Obligation struct {
	Key            ObligationKey
	ChannelAddress string
	Status         ObligationStatus
	ErrorDetail    string
}

// Delivery is a pending obligation joined with its post, filter, and subscriber.
type Delivery struct {
	Obligation Obligation
	Post       Post
	Filter     Filter
	Subscriber Subscriber
}

// Notification is the content handed to a delivery channel.
type Notification struct {
	PostID      string
	Title       string
	Category    string
	Author      string
	PublishedAt string
	Keywords    []string
}

// NewNotification builds outbound content from a joined delivery row.
func NewNotification(d Delivery) Notification {
	return Notification{
		PostID:      d.Post.SourceID,
		Title:       d.Post.Title,
		Category:    d.Post.Category,
		Author:      d.Post.Author,
		PublishedAt: d.Post.PublishedAt,
		Keywords:    d.Filter.Keywords(),
	}
}
