// Package result defines the single-measurement record every timing method
// produces (spec section 3) and its wire encoding (spec section 6): the
// tuple (M:i32, T:f64, wtick:f64, reps:i32, ci:f64), laid out the way a C
// compiler would lay out that struct on a common 64-bit platform (fields in
// declaration order, each aligned to its own size, trailing padding to the
// widest member's alignment) so results can be exchanged as opaque bytes
// between ranks without either side needing to know this package's Go
// representation.
package result

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Result is one measurement: a message size, the mean observed time, the
// worst-case clock resolution across the group, the sample size actually
// used, and the confidence half-width for the mean (0 if never computed,
// e.g. below the reps floor spec section 4.2 describes).
type Result struct {
	M     int32
	T     float64
	Wtick float64
	Reps  int32
	CI    float64
}

// Size is the encoded length in bytes: int32 M + 4 bytes padding (so the
// following float64 is 8-byte aligned) + float64 T + float64 Wtick + int32
// Reps + 4 bytes padding + float64 CI.
const Size = 4 + 4 + 8 + 8 + 4 + 4 + 8

// Encode appends the wire representation of r to buf and returns the
// extended slice.
func Encode(buf []byte, r Result) []byte {
	var scratch [Size]byte
	order := binary.NativeEndian
	order.PutUint32(scratch[0:4], uint32(r.M))
	order.PutUint64(scratch[8:16], math.Float64bits(r.T))
	order.PutUint64(scratch[16:24], math.Float64bits(r.Wtick))
	order.PutUint32(scratch[24:28], uint32(r.Reps))
	order.PutUint64(scratch[32:40], math.Float64bits(r.CI))
	return append(buf, scratch[:]...)
}

// Decode reads one Result from the front of buf, returning the result and
// the remaining, unconsumed bytes.
func Decode(buf []byte) (Result, []byte, error) {
	if len(buf) < Size {
		return Result{}, nil, fmt.Errorf("result: decode: need %d bytes, have %d", Size, len(buf))
	}
	order := binary.NativeEndian
	r := Result{
		M:     int32(order.Uint32(buf[0:4])),
		T:     math.Float64frombits(order.Uint64(buf[8:16])),
		Wtick: math.Float64frombits(order.Uint64(buf[16:24])),
		Reps:  int32(order.Uint32(buf[24:28])),
		CI:    math.Float64frombits(order.Uint64(buf[32:40])),
	}
	return r, buf[Size:], nil
}
