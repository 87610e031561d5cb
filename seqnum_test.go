package rtpdepacket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeqNumLT(t *testing.T) {
	for _, ca := range []struct {
		name string
		a, b uint16
		lt   bool
	}{
		{"simple less", 10, 11, true},
		{"simple greater", 11, 10, false},
		{"equal", 10, 10, false},
		{"wrap around", 0xFFFF, 0x0000, true},
		{"wrap boundary true", 0x0000, 0x8000, true},
		{"wrap boundary false", 0x0000, 0x8001, false},
		{"far apart", 0x0000, 0x7FFF, true},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.lt, seqNumLT(ca.a, ca.b))
		})
	}
}
