package transport

import (
	"encoding/binary"
	"time"

	"github.com/xl4net/xl4net/internal/metrics"
)

// encodeTimestamp packs t as nanoseconds-since-epoch, little-endian, for
// use as a Ping payload that the peer echoes back in Pong.
func encodeTimestamp(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTimestamp(payload []byte) (time.Time, bool) {
	if len(payload) < 8 {
		return time.Time{}, false
	}
	nanos := binary.LittleEndian.Uint64(payload[:8])
	return time.Unix(0, int64(nanos)), true
}

// updateRTT recomputes conn's smoothed round-trip time from a Pong whose
// payload echoes the original Ping's send timestamp: rtt = recv_time -
// payload.send_time per spec §4.3's heartbeat rule.
func updateRTT(conn *Connection, pongPayload []byte) {
	sendTime, ok := decodeTimestamp(pongPayload)
	if !ok {
		return
	}
	rtt := time.Since(sendTime)
	if rtt < 0 {
		return
	}
	conn.mu.Lock()
	conn.rtt = rtt
	conn.mu.Unlock()
	metrics.RTT.Observe(rtt.Seconds())
}
