package rtpdepacket

// Timestamp is a (seconds, microseconds) wall-clock pair, matching the
// live555-derived convention used throughout this engine for
// presentationTime and timeReceived (§3).
type Timestamp struct {
	Sec  int64
	Usec int64
}

// addUsec advances t by usec microseconds, carrying overflow into Sec (§4.3:
// "advance presentationTime by durationUsec with carry into seconds").
func (t Timestamp) addUsec(usec int64) Timestamp {
	t.Usec += usec
	if t.Usec >= 1000000 {
		t.Sec += t.Usec / 1000000
		t.Usec %= 1000000
	}
	return t
}
