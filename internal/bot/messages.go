package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const welcomeMessage = "Hi! Send me a video link and I'll list the qualities that fit in a chat upload. " +
	"Reply with the number of the one you want and I'll send the video, split into parts if it is too large."

const retrievingMessage = "Downloading and preparing your video..."

// RenderOffers formats an admitted offer list for the chat.
func RenderOffers(offers []Offer, ceiling int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Available formats (up to %s):\n", humanize.IBytes(uint64(ceiling)))
	for _, o := range offers {
		fmt.Fprintf(&b, "%d) %s", o.Token, o.Label())
		if o.Size > 0 {
			fmt.Fprintf(&b, " · ~%s", humanize.Bytes(uint64(o.Size)))
		} else {
			b.WriteString(" · size unknown")
		}
		b.WriteString("\n")
	}
	b.WriteString("Reply with the number of the format you want.")
	return b.String()
}

// RenderError turns a turn's error into the reply shown to the user.
func RenderError(err error, ceiling int64) string {
	var delivery *DeliveryError
	switch ErrorKind(err) {
	case KindInvalidInput:
		switch {
		case errors.Is(err, ErrUnknownToken):
			return "That number is not one of the listed formats. Reply with one of the numbers above, or send a new link."
		case errors.Is(err, ErrNoSession):
			return "There is nothing to choose from yet. Send a video link first."
		default:
			return "That doesn't look like a valid link. Please send an http(s) video URL."
		}
	case KindBusy:
		return "I'm still working on your previous request. Please wait until it finishes."
	case KindEmptyCatalog:
		return "I couldn't find any downloadable video formats for that link."
	case KindNoAdmissibleOffers:
		return fmt.Sprintf("Every available format is larger than %s, so I can't send this video.", humanize.IBytes(uint64(ceiling)))
	case KindRetrievalFailure:
		return "Download failed: " + causeText(err)
	case KindSegmentationFailure:
		return "Splitting the video into parts failed: " + causeText(err)
	case KindDeliveryFailure:
		if errors.As(err, &delivery) && delivery.Parts > 1 {
			return fmt.Sprintf("Sending part %d of %d failed (parts delivered: %s): %s",
				delivery.Part, delivery.Parts, joinInts(delivery.Delivered), causeText(delivery.Err))
		}
		return "Sending the video failed: " + causeText(err)
	default:
		return "Something went wrong: " + causeText(err)
	}
}

// causeText is the innermost error message, which is what the user can act on.
func causeText(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
