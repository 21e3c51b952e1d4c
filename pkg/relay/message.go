// Package relay carries captured payloads one way, from the host page context
// to the overlay context.
//
// The receiving side is a [Receiver]. It checks each message's declared origin
// against one expected origin string and publishes accepted messages onto a
// typed channel. Messages from other origins are dropped silently; messages
// with the wrong shape are protocol violations and are dropped with a warning.
// Arrival order is not guaranteed and consumers must treat the stream as
// unordered.
//
// Two transports feed a Receiver: WebSocket connections accepted by
// [Receiver.ServeHTTP] (the origin is the handshake Origin header) and direct
// in-process calls to [Receiver.Deliver]. The sending side over WebSocket is a
// [Sender].
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	// ErrForeignOrigin is returned by [Receiver.Deliver] for messages whose
	// origin is not the expected one.
	ErrForeignOrigin = errors.New("relay: unexpected origin")

	// ErrMalformed is returned by [Receiver.Deliver] and [Decode] for
	// messages that are not of the form {"url": string, "text": string}.
	ErrMalformed = errors.New("relay: malformed message")
)

// Message is the only message type carried by the channel.
type Message struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Envelope is a raw message as seen by the receiving context.
type Envelope struct {
	// Origin is the origin declared by the sending context.
	Origin string

	// Data is the serialized message.
	Data []byte
}

// Encode serializes m in wire form.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses data as a [Message]. Unknown fields, missing fields, wrong
// field types and an empty url all yield an error wrapping [ErrMalformed].
func Decode(data []byte) (Message, error) {
	var wire struct {
		URL  *string `json:"url"`
		Text *string `json:"text"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return Message{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if wire.URL == nil || *wire.URL == "" {
		return Message{}, fmt.Errorf("%w: missing url", ErrMalformed)
	}
	if wire.Text == nil {
		return Message{}, fmt.Errorf("%w: missing text", ErrMalformed)
	}
	return Message{URL: *wire.URL, Text: *wire.Text}, nil
}

// Endpoint describes the hidden embedding point both sides agree on at
// construction time.
type Endpoint struct {
	// Token is the opaque identity of the embedding point.
	Token string `json:"token"`

	// Patterns are the URL patterns the capturing side should forward.
	Patterns []string `json:"patterns"`
}

// NewToken returns a fresh opaque embedding point token.
func NewToken() string {
	return "__relay_" + uuid.NewString() + "__"
}

// Path returns the HTTP path the receiver is mounted at.
func (e Endpoint) Path() string {
	return "/relay/" + e.Token
}

// Compile compiles the endpoint's URL patterns.
func (e Endpoint) Compile() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(e.Patterns))
	for _, p := range e.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("relay: compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
