// Package rtpdepacket implements a receiver-side RTP depacketization engine
// for payload formats that pack one or more complete codec frames per RTP
// packet (and may fragment a single frame across several packets).
//
// The engine parses incoming RTP datagrams, reorders out-of-sequence packets
// within a bounded time window, detects loss and duplication, and hands
// complete, in-order payload frames to a downstream consumer through
// RtpSource.
package rtpdepacket
