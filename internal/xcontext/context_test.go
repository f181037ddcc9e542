package xcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachWithTimeout_IgnoresParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	detached, detachedCancel := DetachWithTimeout(parent, time.Minute)
	defer detachedCancel()

	assert.NoError(t, detached.Err())
}

func TestDetachWithTimeout_CarriesValues(t *testing.T) {
	type key struct{}

	parent := context.WithValue(context.Background(), key{}, "kept")

	detached, cancel := DetachWithTimeout(parent, time.Minute)
	defer cancel()

	require.Equal(t, "kept", detached.Value(key{}))
}

func TestDetachWithTimeout_ExpiresOnItsOwn(t *testing.T) {
	detached, cancel := DetachWithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	select {
	case <-detached.Done():
	case <-time.After(time.Second):
		t.Fatal("detached context never expired")
	}

	assert.ErrorIs(t, detached.Err(), context.DeadlineExceeded)
}
