package notify

import (
	"context"
	"strings"
	"time"
)

// Reply is an approved final response addressed to the letter's sender.
type Reply struct {
	// ID is stable per letter and approval round so a consumer can drop
	// redeliveries.
	ID       string    `json:"id"`
	LetterID int64     `json:"letter_id"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	ActorID  string    `json:"actor_id,omitempty"`
	At       time.Time `json:"at"`
}

// Dispatcher delivers replies. Unlike Notify, a Dispatch error means the
// reply did not leave and the letter must not be marked sent.
type Dispatcher interface {
	Dispatch(ctx context.Context, r Reply) error
}

// ReplySubject prefixes subject with "Re: " unless it already has one.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

// Dispatch accepts and drops r.
func (Nop) Dispatch(context.Context, Reply) error { return nil }

// Dispatch logs that r was handed over. Neither the address nor the body is
// written.
func (n LogNotifier) Dispatch(_ context.Context, r Reply) error {
	n.Log.Info().
		Str("reply_id", r.ID).
		Int64("letter_id", r.LetterID).
		Str("subject", r.Subject).
		Int("body_bytes", len(r.Body)).
		Msg("reply dispatched")
	return nil
}
