package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRejectsUnsupportedScheme(t *testing.T) {
	_, err := Open(context.Background(), "usb://whatever", 9600)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestOpenRejectsSerialURIWithoutPath(t *testing.T) {
	_, err := Open(context.Background(), "serial://", 9600)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device path")
}

func TestOpenRejectsInvalidURI(t *testing.T) {
	_, err := Open(context.Background(), "://not-a-uri", 9600)
	assert.Error(t, err)
}

func TestDialTCPRejectsUnreachableAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// 198.51.100.0/24 is reserved for documentation (RFC 5737) and never
	// routable, so this reliably times out rather than connecting.
	_, err := DialTCP(ctx, "198.51.100.1:9")
	assert.Error(t, err)
}
