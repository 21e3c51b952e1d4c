package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent is returned by [DecodeEvent] for frames whose type is not
// part of the overlay protocol.
var ErrUnknownEvent = errors.New("overlay: unknown event type")

// EventType discriminates inbound frames.
type EventType string

// Inbound event types sent by the browser overlay.
const (
	EventScreenShown  EventType = "screen_shown"
	EventScreenHidden EventType = "screen_hidden"
	EventPaused       EventType = "paused"
	EventDialogOpened EventType = "dialog_opened"
	EventDialogClosed EventType = "dialog_closed"
	EventDOM          EventType = "dom"
	EventKey          EventType = "key"
	EventAudio        EventType = "audio"
	EventRateDelta    EventType = "rate_delta"
)

// Event is one inbound frame. Only the fields relevant to Type are set.
type Event struct {
	Type EventType `json:"type"`

	// dom
	HTML string `json:"html,omitempty"`

	// key
	Key string `json:"key,omitempty"`
	ID  uint64 `json:"id,omitempty"`

	// audio: Src echoes the set_source URL the duration belongs to.
	Src      string  `json:"src,omitempty"`
	Duration float64 `json:"duration,omitempty"`

	// rate_delta
	Delta float64 `json:"delta,omitempty"`
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("overlay: decode event: %w", err)
	}
	switch ev.Type {
	case EventScreenShown, EventScreenHidden, EventPaused,
		EventDialogOpened, EventDialogClosed, EventRateDelta:
	case EventAudio:
		if ev.Src == "" {
			return Event{}, errors.New("overlay: audio event without src")
		}
	case EventDOM:
		if ev.HTML == "" {
			return Event{}, errors.New("overlay: dom event without html")
		}
	case EventKey:
		if ev.Key == "" {
			return Event{}, errors.New("overlay: key event without key")
		}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return ev, nil
}

// CommandType discriminates outbound frames.
type CommandType string

// Outbound command types understood by the browser overlay.
const (
	CommandVerdict      CommandType = "verdict"
	CommandConfirm      CommandType = "confirm"
	CommandSetSource    CommandType = "set_source"
	CommandSetVolume    CommandType = "set_volume"
	CommandSetRate      CommandType = "set_rate"
	CommandPlay         CommandType = "play"
	CommandSeek         CommandType = "seek"
	CommandErrorSound   CommandType = "error_sound"
	CommandShowMistake  CommandType = "show_mistake"
	CommandClearMistake CommandType = "clear_mistake"
)

// Command is one outbound frame.
type Command interface {
	CommandType() CommandType
}

type verdictMessage struct {
	Type     CommandType `json:"type"`
	ID       uint64      `json:"id"`
	Suppress bool        `json:"suppress"`
}

type bareMessage struct {
	Type CommandType `json:"type"`
}

type sourceMessage struct {
	Type CommandType `json:"type"`
	URL  string      `json:"url"`
}

type volumeMessage struct {
	Type   CommandType `json:"type"`
	Volume float64     `json:"volume"`
}

type rateMessage struct {
	Type CommandType `json:"type"`
	Rate float64     `json:"rate"`
}

type playMessage struct {
	Type CommandType `json:"type"`
	At   float64     `json:"at"`
}

type seekMessage struct {
	Type  CommandType `json:"type"`
	Delta float64     `json:"delta"`
}

type mistakeMessage struct {
	Type   CommandType `json:"type"`
	Letter string      `json:"letter"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	FadeMS int64       `json:"fade_ms"`
}

func (m verdictMessage) CommandType() CommandType { return m.Type }
func (m bareMessage) CommandType() CommandType    { return m.Type }
func (m sourceMessage) CommandType() CommandType  { return m.Type }
func (m volumeMessage) CommandType() CommandType  { return m.Type }
func (m rateMessage) CommandType() CommandType    { return m.Type }
func (m playMessage) CommandType() CommandType    { return m.Type }
func (m seekMessage) CommandType() CommandType    { return m.Type }
func (m mistakeMessage) CommandType() CommandType { return m.Type }

// Verdict answers a key event: suppress tells the overlay to cancel it before
// it reaches the host page.
func Verdict(id uint64, suppress bool) Command {
	return verdictMessage{Type: CommandVerdict, ID: id, Suppress: suppress}
}
