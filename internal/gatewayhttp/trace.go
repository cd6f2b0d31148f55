package gatewayhttp

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// amznTraceIDHeader is the platform's own trace header, distinct from the
// W3C traceparent header the OpenTelemetry propagator uses internally. The
// two are composed, not merged: this header rides with every request to and
// from the RIE; traceparent only matters to the OTel pipeline.
const amznTraceIDHeader = "X-Amzn-Trace-Id"

// newAmznTraceID mints a Root=1-<8-hex-epoch>-<24-hex-random>;Sampled=1
// value for a request that arrived without one. The random tail is sliced
// from a uuid rather than raw crypto/rand so this package shares its source
// of randomness with worker/request id generation elsewhere in the stack.
func newAmznTraceID() string {
	epoch := make([]byte, 4)
	// time.Now().Unix() formatted as 8 hex chars, matching the platform's
	// own trace id layout (seconds since epoch, big-endian hex).
	now := uint32(time.Now().Unix())
	epoch[0] = byte(now >> 24)
	epoch[1] = byte(now >> 16)
	epoch[2] = byte(now >> 8)
	epoch[3] = byte(now)

	id := uuid.New()
	tail := hex.EncodeToString(id[:])[:24]

	return fmt.Sprintf("Root=1-%s-%s;Sampled=1", hex.EncodeToString(epoch), tail)
}

// rootTraceID extracts the Root=1-xx-yyyy portion of an X-Amzn-Trace-Id
// value, which becomes the RIE event's requestContext.requestId.
func rootTraceID(header string) string {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "Root="); ok {
			return v
		}
	}
	return header
}
