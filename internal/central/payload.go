package central

import (
	"encoding/base64"
	"strconv"
	"time"
)

// TimestampPayload returns t as decimal Unix milliseconds.
func TimestampPayload(t time.Time) []byte {
	return strconv.AppendInt(nil, t.UnixMilli(), 10)
}

// EncodeBase64 returns the standard base64 form of p, as peripherals logging
// the payload commonly print it.
func EncodeBase64(p []byte) string {
	return base64.StdEncoding.EncodeToString(p)
}
