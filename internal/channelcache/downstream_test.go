package channelcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Read/Write admission control is advisory only: driving a DownstreamChannel
// far past its entry's configured burst must never return an error or block
// the caller, since §5 gives this layer no timeouts to enforce against.
func TestDownstreamAdmissionNeverBlocksOrFails(t *testing.T) {
	provider := newFakeProvider()
	cache := New(provider)
	ctx := context.Background()

	d, err := Open(ctx, cache, "X")
	require.NoError(t, err)

	for i := 0; i < admissionBurst*3; i++ {
		_, err := d.Read(ctx)
		assert.NoError(t, err)
	}
	for i := 0; i < admissionBurst*3; i++ {
		assert.NoError(t, d.Write(ctx, "v", nil))
	}
}
