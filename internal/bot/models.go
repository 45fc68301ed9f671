package bot

import "strconv"

// ConversationID identifies one chat conversation on the transport.
type ConversationID string

// StreamVariant is one encoding option from a media catalog.
// Zero values stand for "not declared": Height 0 for audio-only variants,
// Size 0 when the catalog carries no byte size, Bitrate 0 when unknown.
type StreamVariant struct {
	ID       string
	Height   int
	HasVideo bool
	HasAudio bool
	Size     int64
	Bitrate  float64
	Ext      string
}

// Offer is a candidate selection: a video variant, optionally paired with a
// separate audio variant, and its estimated combined size.
type Offer struct {
	Token   int // 1-based display token, assigned by Admit
	Height  int
	VideoID string
	AudioID string // empty when the video variant already carries audio
	Size    int64
	Ext     string
}

// FormatSpec returns the provider format specification: "video" or "video+audio".
func (o Offer) FormatSpec() string {
	if o.AudioID == "" {
		return o.VideoID
	}
	return o.VideoID + "+" + o.AudioID
}

// Label is the resolution label shown to the user, e.g. "480p".
func (o Offer) Label() string {
	return strconv.Itoa(o.Height) + "p"
}

// SessionState is the conversation state machine position.
type SessionState string

const (
	// StateAwaitingURL is the initial state and the state after every finished round.
	StateAwaitingURL SessionState = "awaiting_url"
	// StateAwaitingSelection means offers were shown and a token is expected.
	StateAwaitingSelection SessionState = "awaiting_selection"
	// StateBusy means a probe or a retrieval is running for the conversation.
	StateBusy SessionState = "busy"
)

// Session is the in-memory state of one conversation. It is lost on restart.
type Session struct {
	ID     ConversationID
	State  SessionState
	URL    string
	Offers map[int]Offer // token -> offer, valid for the current round only
}

// Artifact is a retrieved media file exclusively owned by one pipeline run.
type Artifact struct {
	Path  string
	Title string
	Size  int64
}

// DeliveryReport describes what reached the user.
type DeliveryReport struct {
	Parts     int   // number of files the artifact was delivered as
	Delivered []int // 1-based indices of parts uploaded successfully
}
