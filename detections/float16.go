package detections

import (
	"encoding/binary"

	"github.com/x448/float16"
)

var f16LookupTable [65536]float32

func init() {
	for i := range f16LookupTable {
		f16LookupTable[i] = float16.Frombits(uint16(i)).Float32()
	}
}

// Float16ToFloat32 converts a little-endian IEEE 754 half precision buffer.
// A trailing odd byte is ignored.
func Float16ToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = f16LookupTable[binary.LittleEndian.Uint16(raw[i*2:])]
	}
	return out
}
