package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait(t *testing.T) {
	v, err := Await(context.Background(), "test-await", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := errors.New("boom")
	_, err = Await(context.Background(), "test-await", func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestAwait_ContextWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := Await(ctx, "test-await", func() (string, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
