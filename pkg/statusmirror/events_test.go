package statusmirror

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventChannelNaming(t *testing.T) {
	assert.Equal(t, "dfu:dev-1", hashKey("dev-1"))
	assert.Equal(t, "dfu:dev-1:events", eventChannel("dev-1"))
}

func TestEventRoundTrip(t *testing.T) {
	ev := Event{Kind: EventProgress, Progress: 42}
	data, err := cbor.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestEventDoneCarriesError(t *testing.T) {
	ev := Event{Kind: EventDone, Error: "verification failed"}
	data, err := cbor.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, "verification failed", decoded.Error)
	assert.Equal(t, EventDone, decoded.Kind)
}
