package statusmirror

import (
	"github.com/fxamacker/cbor/v2"
)

// EventKind discriminates the payload fields set on an Event.
type EventKind uint8

const (
	EventStage EventKind = iota
	EventProgress
	EventDone
)

// eventChannel is the pub/sub channel CBOR-encoded events go out on, as
// opposed to the plain-string fields published alongside the hash writes
// (those exist for watchers that only want to grep a log).
func eventChannel(deviceID string) string {
	return hashKey(deviceID) + ":events"
}

// Event is the CBOR-encoded payload published on a device's event channel.
// Only the fields relevant to Kind are meaningful.
type Event struct {
	Kind     EventKind `cbor:"0,keyasint"`
	Stage    string    `cbor:"1,keyasint,omitempty"`
	Progress int       `cbor:"2,keyasint,omitempty"`
	Error    string    `cbor:"3,keyasint,omitempty"`
}

func (m *Mirror) publishEvent(ev Event) error {
	data, err := cbor.Marshal(ev)
	if err != nil {
		return err
	}
	return m.client.Publish(eventChannel(m.deviceID), string(data))
}
