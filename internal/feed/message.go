package feed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/certsync/internal/model"
)

// ErrIgnored is returned by DecodeMessage for well-formed messages that are
// not certification events, such as heartbeats or trainer notifications.
var ErrIgnored = errors.New("not a certification event")

var (
	messageTypeKeys    = []string{"type", "event", "action", "name"}
	messagePayloadKeys = []string{"payload", "data", "result", "record"}
)

// DecodeMessage maps a push message onto an Event tagged with channel.
//
// A message is an object naming the event under one of "type", "event",
// "action" or "name", with the certification under "payload", "data",
// "result" or "record". Events without a producer id get a random one.
func DecodeMessage(data []byte, channel string) (model.Event, error) {
	m, err := model.DecodeObject(data)
	if err != nil {
		return model.Event{}, err
	}

	name := ""
	for _, k := range messageTypeKeys {
		if s, ok := m[k].(string); ok && s != "" {
			name = s
			break
		}
	}
	if name == "" {
		return model.Event{}, fmt.Errorf("%w: message without event type", model.ErrMalformedPayload)
	}
	if !isCertificationEvent(name) {
		return model.Event{}, fmt.Errorf("%w: %s", ErrIgnored, name)
	}
	kind, ok := model.ParseKind(name)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: unknown event type %q", model.ErrMalformedPayload, name)
	}

	var payload map[string]any
	for _, k := range messagePayloadKeys {
		if p, ok := m[k].(map[string]any); ok {
			payload = p
			break
		}
	}
	if payload == nil {
		return model.Event{}, fmt.Errorf("%w: %s without payload", model.ErrMalformedPayload, name)
	}

	ev, err := model.ParseEvent(kind, payload)
	if err != nil {
		return model.Event{}, err
	}
	if ev.ID == "" {
		if id, ok := m["id"].(string); ok && id != "" {
			ev.ID = id
		} else {
			ev.ID = uuid.NewString()
		}
	}
	ev.Channel = channel
	return ev, nil
}

// isCertificationEvent reports whether a message type names a
// certification event. Bare verbs count; other namespaces do not.
func isCertificationEvent(name string) bool {
	s := strings.ToLower(name)
	if i := strings.IndexAny(s, "._"); i >= 0 {
		return strings.HasPrefix(s, "certification")
	}
	_, ok := model.ParseKind(s)
	return ok
}
