package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType tags a tracking event. The first five are recordable by transporters;
// accepted and cancelled are appended only by lifecycle transitions.
type EventType string

const (
	EventPickup    EventType = "pickup"
	EventInTransit EventType = "in_transit"
	EventStop      EventType = "stop"
	EventDelivered EventType = "delivered"
	EventIssue     EventType = "issue"

	EventAccepted  EventType = "accepted"
	EventCancelled EventType = "cancelled"
)

type TrackingEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Location  *Coord    `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
}

// EventInput is the transporter-supplied part of a tracking event.
type EventInput struct {
	Type     EventType
	Location *Coord
	Note     string
}

type eventRule struct {
	needsLocation bool
	needsNote     bool
}

// recordable event types and the fields each one requires.
var eventRules = map[EventType]eventRule{
	EventPickup:    {},
	EventInTransit: {},
	EventStop:      {needsLocation: true},
	EventDelivered: {},
	EventIssue:     {needsNote: true},
}

var ErrInvalidEvent = errors.New("invalid tracking event")

const maxNoteLen = 1000

// NewEvent validates in against the rules for its type and stamps it with at.
func NewEvent(in EventInput, at time.Time) (TrackingEvent, error) {
	rule, ok := eventRules[in.Type]
	if !ok {
		return TrackingEvent{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, in.Type)
	}
	if rule.needsLocation && in.Location == nil {
		return TrackingEvent{}, fmt.Errorf("%w: %s event requires a location", ErrInvalidEvent, in.Type)
	}
	if rule.needsNote && in.Note == "" {
		return TrackingEvent{}, fmt.Errorf("%w: %s event requires a note", ErrInvalidEvent, in.Type)
	}
	if len(in.Note) > maxNoteLen {
		return TrackingEvent{}, fmt.Errorf("%w: note longer than %d characters", ErrInvalidEvent, maxNoteLen)
	}
	if in.Location != nil && !ValidCoord(*in.Location) {
		return TrackingEvent{}, fmt.Errorf("%w: location out of range", ErrInvalidEvent)
	}
	ev := TrackingEvent{Type: in.Type, Timestamp: at, Note: in.Note}
	if in.Location != nil {
		loc := *in.Location
		ev.Location = &loc
	}
	return ev, nil
}

// SystemEvent builds one of the events appended by lifecycle transitions.
func SystemEvent(t EventType, note string, at time.Time) TrackingEvent {
	return TrackingEvent{Type: t, Timestamp: at, Note: note}
}

// ValidCoord checks latitude/longitude ranges.
func ValidCoord(c Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
