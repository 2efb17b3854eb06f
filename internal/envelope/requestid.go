package envelope

import (
	"encoding/base32"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// requestIDEncoding is unpadded base32 with the extended-hex alphabet
// (0-9 then A-V), whose characters are in ascending ASCII order, so the
// fixed-length encoded IDs sort lexically in the same order as their bytes.
var requestIDEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// requestIDCounter disambiguates request IDs minted within the same
// millisecond. It wraps at 2^16, which is far above any plausible
// single-process request rate within one millisecond.
var requestIDCounter uint32

// NewRequestID returns a monotonic, ULID-style request identifier: a
// 48-bit millisecond timestamp, a 16-bit per-process counter, and a
// 40-bit random tail, base32-encoded. Two IDs minted in the same process
// always sort in mint order because the timestamp+counter prefix is
// monotonic; the random tail only exists to keep IDs from different
// processes (or after a counter wrap) from colliding.
func NewRequestID() string {
	ms := time.Now().UnixMilli()
	counter := atomic.AddUint32(&requestIDCounter, 1) & 0xFFFF

	var buf [13]byte
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	buf[6] = byte(counter >> 8)
	buf[7] = byte(counter)

	tail := uuid.New()
	copy(buf[8:], tail[:5])

	return requestIDEncoding.EncodeToString(buf[:])
}
