package statusmirror

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// queueKey is the Redis list update jobs are pushed onto.
const queueKey = "dfu:queue"

// Job describes one queued update request, encoded as JSON on the list so
// it stays human-inspectable with redis-cli.
type Job struct {
	DeviceID  string `json:"device_id"`
	URI       string `json:"uri"`
	Firmware  string `json:"firmware"`
	Verify    bool   `json:"verify,omitempty"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// Enqueue pushes job onto the update queue for a consumer to pick up.
func (m *Mirror) Enqueue(job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return m.client.LPush(queueKey, string(data))
}

// Drain blocks on the update queue and sends each decoded Job to the
// returned channel until ctx is done. Malformed entries are logged and
// skipped rather than killing the watcher, mirroring how a long-lived
// command watcher tolerates one bad entry without giving up on the rest.
func (m *Mirror) Drain(ctx context.Context) <-chan Job {
	jobs := make(chan Job)
	go func() {
		defer close(jobs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			result, err := m.client.BRPop(1*time.Second, queueKey)
			if err != nil {
				log.Printf("statusmirror: error receiving from %s: %v", queueKey, err)
				time.Sleep(1 * time.Second)
				continue
			}
			if result == nil {
				continue // BRPOP timeout, loop back and recheck ctx
			}

			var job Job
			if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
				log.Printf("statusmirror: malformed job on %s: %v", queueKey, err)
				continue
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return jobs
}
