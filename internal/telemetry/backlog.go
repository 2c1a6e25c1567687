package telemetry

import "log"

// outbound is a serialized MQTT message held for replay after reconnection.
type outbound struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a fixed-capacity FIFO holding messages while the broker is
// unreachable. When full, the oldest message is dropped — recent safety
// events matter more than stale ones. Not safe for concurrent use; the
// publisher synchronizes.
type backlog struct {
	slots        []outbound
	next         int // next write position
	held         int
	dropped      int // messages dropped since the last drain
	droppedTotal int
}

func newBacklog(capacity int) *backlog {
	return &backlog{slots: make([]outbound, capacity)}
}

func (b *backlog) push(msg outbound) {
	if b.held == len(b.slots) {
		if b.dropped == 0 {
			log.Printf("telemetry: backlog full (%d messages), dropping oldest", len(b.slots))
		}
		b.dropped++
		b.droppedTotal++
		// next already points at the oldest slot; overwrite it.
		b.slots[b.next] = msg
		b.next = (b.next + 1) % len(b.slots)
		return
	}
	b.slots[b.next] = msg
	b.next = (b.next + 1) % len(b.slots)
	b.held++
}

// drain returns the held messages oldest-first and empties the backlog.
func (b *backlog) drain() []outbound {
	if b.held == 0 {
		return nil
	}
	out := make([]outbound, b.held)
	oldest := (b.next - b.held + len(b.slots)) % len(b.slots)
	for i := 0; i < b.held; i++ {
		out[i] = b.slots[(oldest+i)%len(b.slots)]
	}
	b.held = 0
	b.next = 0
	b.dropped = 0
	return out
}

func (b *backlog) size() int {
	return b.held
}
