package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable marks a failed feed fetch; the tick continues with zero posts.
	ErrSourceUnavailable = errors.New("feed source unavailable")
	// ErrMalformedFeed marks feed markup that could not be decoded.
	ErrMalformedFeed = errors.New("malformed feed")
	// ErrPersistence marks a failed read or write of a single row.
	ErrPersistence = errors.New("persistence error")
	// ErrStoreUnavailable marks a store failure that prevents the whole operation.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDeliveryRejected marks a channel send failure.
	ErrDeliveryRejected = errors.New("delivery rejected")
	// ErrPermanentRejection marks a send failure after which the recipient is unreachable.
	ErrPermanentRejection = errors.New("recipient permanently unreachable")
)

// DeliveryError is the structured failure returned by a delivery channel.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return ErrDeliveryRejected.Error()
	}
	return e.Err.Error()
}

// Unwrap exposes both the cause and the matching taxonomy sentinel.
func (e *DeliveryError) Unwrap() []error {
	errs := []error{ErrDeliveryRejected}
	if e.Permanent {
		errs = append(errs, ErrPermanentRejection)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsPermanent reports whether err carries a permanent-rejection signal.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentRejection)
}

// Persistence wraps a row-level store error.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// permanentPhrases are push-channel error fragments meaning the recipient can no longer be reached.
var permanentPhrases = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"bot can't initiate conversation",
	"bot is not a member",
}

// IsPermanentMessage reports whether a channel error message names an unreachable recipient.
func IsPermanentMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, phrase := range permanentPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
