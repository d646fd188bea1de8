package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/kimhsiao/babylog/internal/backend"
	"github.com/kimhsiao/babylog/internal/uuid"
)

// Client actions on the websocket feed.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"

	ActionSubscribeAck = "subscribe_ack"
	ActionPong         = "pong"
	ActionError        = "error"
)

// EventTypePrefix prefixes the CloudEvents type of change events.
const EventTypePrefix = "babylog.change."

const subscriptionExtension = "subscription"

// ClientMessage is a control message sent by a feed client.
type ClientMessage struct {
	Action string          `json:"action"`
	ID     string          `json:"id,omitempty"`
	Filter *backend.Filter `json:"filter,omitempty"`
}

// ControlMessage is a non-event message sent by the server.
type ControlMessage struct {
	Action    string `json:"action"`
	ID        string `json:"id,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeChange wraps a change delivered to subscription subID as a CloudEvent.
func EncodeChange(subID string, c backend.Change) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewV7())
	event.SetSource("/tables/" + c.Table)
	event.SetType(EventTypePrefix + string(c.Kind))
	event.SetTime(time.Now())
	event.SetExtension(subscriptionExtension, subID)
	if err := event.SetData(cloudevents.ApplicationJSON, c); err != nil {
		return nil, fmt.Errorf("set event data: %w", err)
	}
	return json.Marshal(event)
}

// IsEvent reports whether a raw server message is a CloudEvent rather than a
// control message.
func IsEvent(raw []byte) bool {
	var probe struct {
		SpecVersion string `json:"specversion"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.SpecVersion != ""
}

// DecodeChange unwraps a CloudEvent produced by EncodeChange.
func DecodeChange(raw []byte) (string, backend.Change, error) {
	var event cloudevents.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return "", backend.Change{}, fmt.Errorf("decode event: %w", err)
	}
	if !strings.HasPrefix(event.Type(), EventTypePrefix) {
		return "", backend.Change{}, fmt.Errorf("unexpected event type %q", event.Type())
	}

	var c backend.Change
	if err := event.DataAs(&c); err != nil {
		return "", backend.Change{}, fmt.Errorf("decode event data: %w", err)
	}

	subID, _ := event.Extensions()[subscriptionExtension].(string)
	return subID, c, nil
}

func control(action, id, errMsg string) []byte {
	data, _ := json.Marshal(ControlMessage{
		Action:    action,
		ID:        id,
		Error:     errMsg,
		Timestamp: time.Now().Unix(),
	})
	return data
}
