package central

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimestampPayload(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)

	p := TimestampPayload(ts)
	assert.Equal(t, "1700000000123", string(p))
	assert.Equal(t, "MTcwMDAwMDAwMDEyMw==", EncodeBase64(p))
}
