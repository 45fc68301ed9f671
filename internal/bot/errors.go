package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidURL is returned when a submitted text is not an http(s) URL.
	ErrInvalidURL = errors.New("input is not a valid link")

	// ErrUnknownToken is returned when a selection token is not part of the
	// current round, including tokens that were valid in an earlier round.
	ErrUnknownToken = errors.New("selection is not one of the offered options")

	// ErrNoSession is returned when a selection arrives while no offers are pending.
	ErrNoSession = errors.New("no offers are pending for this conversation")

	// ErrBusy is returned when the conversation already has a probe or a
	// retrieval in flight. New submissions are rejected, not queued.
	ErrBusy = errors.New("a request is already in progress for this conversation")

	// ErrEmptyCatalog is returned when the provider lists no usable video variant.
	ErrEmptyCatalog = errors.New("no downloadable video formats were found")

	// ErrNoAdmissibleOffers is returned when variants exist but none fits the size ceiling.
	ErrNoAdmissibleOffers = errors.New("no format fits within the size limit")
)

// RetrievalError wraps a provider failure (extraction or merge) or a remux failure.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed during %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SegmentationError wraps a segmenter failure or an unusable segment set.
type SegmentationError struct {
	Err error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation failed: %v", e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// DeliveryError reports an upload the transport rejected. Delivery stops at
// Part; Delivered lists the 1-based parts that reached the user before it.
type DeliveryError struct {
	Part      int
	Parts     int
	Delivered []int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of part %d/%d failed (delivered: %s): %v",
		e.Part, e.Parts, joinInts(e.Delivered), e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Kind labels an error with its place in the taxonomy. Used for metrics and logs.
type Kind string

const (
	KindNone                Kind = "none"
	KindInvalidInput        Kind = "invalid_input"
	KindBusy                Kind = "busy"
	KindEmptyCatalog        Kind = "empty_catalog"
	KindNoAdmissibleOffers  Kind = "no_admissible_offers"
	KindRetrievalFailure    Kind = "retrieval_failure"
	KindSegmentationFailure Kind = "segmentation_failure"
	KindDeliveryFailure     Kind = "delivery_failure"
	KindUnknown             Kind = "unknown"
)

// ErrorKind classifies err.
func ErrorKind(err error) Kind {
	var (
		retrieval    *RetrievalError
		segmentation *SegmentationError
		delivery     *DeliveryError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidURL), errors.Is(err, ErrUnknownToken), errors.Is(err, ErrNoSession):
		return KindInvalidInput
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrEmptyCatalog):
		return KindEmptyCatalog
	case errors.Is(err, ErrNoAdmissibleOffers):
		return KindNoAdmissibleOffers
	case errors.As(err, &delivery):
		return KindDeliveryFailure
	case errors.As(err, &segmentation):
		return KindSegmentationFailure
	case errors.As(err, &retrieval):
		return KindRetrievalFailure
	default:
		return KindUnknown
	}
}

func joinInts(ns []int) string {
	if len(ns) == 0 {
		return "none"
	}
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
