// Package statusmirror publishes update engine progress into Redis so an
// external watcher can observe a run without tailing process output, and
// drains a Redis list for queued update jobs. The hash/pub-sub shape follows
// the status mirroring a sibling service does for vehicle telemetry; the
// queue shape follows that same service's blocking command watcher.
package statusmirror

import (
	"fmt"

	"github.com/librescoot/dfu-tool/pkg/dfu"
	"github.com/librescoot/dfu-tool/pkg/redis"
)

// keyPrefix namespaces every hash this package writes.
const keyPrefix = "dfu"

func hashKey(deviceID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, deviceID)
}

// Mirror implements dfu.Logger and dfu.ProgressReporter on top of a Redis
// hash plus pub/sub channel, keyed by deviceID. It is safe to pass as the
// logger and progress reporter for a single engine run; it is not meant to
// be shared across concurrent runs for the same deviceID.
type Mirror struct {
	client   *redis.Client
	deviceID string
	key      string
}

// New wraps client to mirror one update run identified by deviceID, e.g. a
// serial number or a uri. deviceID is only used as a Redis key component and
// an event field; it carries no protocol meaning.
func New(client *redis.Client, deviceID string) *Mirror {
	m := &Mirror{client: client, deviceID: deviceID, key: hashKey(deviceID)}
	_ = m.client.WriteString(m.key, "device-id", deviceID)
	return m
}

// Printf satisfies dfu.Logger by writing the latest log line into the hash
// and publishing it, so a watcher following pub/sub doesn't need to poll.
func (m *Mirror) Printf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if err := m.client.WriteAndPublishString(m.key, "log", line); err != nil {
		// Nothing downstream of the logger can handle this; the update
		// itself keeps going either way.
		return
	}
}

// Stage satisfies dfu.ProgressReporter by recording the current state name
// and emitting a CBOR-encoded stage-change event.
func (m *Mirror) Stage(s dfu.State) {
	_ = m.client.WriteAndPublishString(m.key, "stage", s.String())
	_ = m.publishEvent(Event{Kind: EventStage, Stage: s.String()})
}

// Progress satisfies dfu.ProgressReporter by recording a write-completion
// percentage and emitting a CBOR-encoded progress event.
func (m *Mirror) Progress(percent int) {
	_ = m.client.WriteAndPublishInt(m.key, "progress", percent)
	_ = m.publishEvent(Event{Kind: EventProgress, Progress: percent})
}

// Done records a terminal outcome: a nil err means the run reached
// dfu.StateDone successfully, any other value is recorded as the run's
// error field.
func (m *Mirror) Done(err error) {
	if err == nil {
		_ = m.client.WriteAndPublishString(m.key, "result", "ok")
		_ = m.publishEvent(Event{Kind: EventDone})
		return
	}
	_ = m.client.WriteAndPublishString(m.key, "result", "error")
	_ = m.client.WriteAndPublishString(m.key, "error", err.Error())
	_ = m.publishEvent(Event{Kind: EventDone, Error: err.Error()})
}

var _ dfu.Logger = (*Mirror)(nil)
var _ dfu.ProgressReporter = (*Mirror)(nil)
