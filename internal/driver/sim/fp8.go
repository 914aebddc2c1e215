package sim

import "math"

const e4m3Max = 448

// encodeE4M3 rounds f to the nearest fp8 e4m3 value, saturating at ±448.
func encodeE4M3(f float32) uint8 {
	sign := uint8(math.Float32bits(f)>>24) & 0x80
	if f != f {
		return sign | 0x7f
	}
	a := math.Abs(float64(f))
	if a >= e4m3Max {
		return sign | 0x7e
	}
	if a == 0 {
		return sign
	}
	_, e := math.Frexp(a)
	exp := e - 1
	if exp < -6 {
		exp = -6
	}
	m := math.RoundToEven(math.Ldexp(a, 3-exp))
	if m == 16 {
		exp++
		m = 8
	}
	if m < 8 {
		// subnormal, only reachable at exp == -6
		return sign | uint8(m)
	}
	return sign | uint8(exp+7)<<3 | uint8(m-8)
}

// decodeE4M3 is the inverse of encodeE4M3 for finite values.
func decodeE4M3(b uint8) float32 {
	sign := float32(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exp := int(b>>3) & 0xf
	man := float64(b & 0x7)
	if exp == 0xf && b&0x7 == 0x7 {
		return float32(math.NaN())
	}
	if exp == 0 {
		return sign * float32(math.Ldexp(man, -9))
	}
	return sign * float32(math.Ldexp(8+man, exp-10))
}
