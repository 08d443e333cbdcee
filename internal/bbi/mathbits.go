package bbi

import "math"

func math32Bits(v float32) uint32      { return math.Float32bits(v) }
func math32FromBits(v uint32) float32  { return math.Float32frombits(v) }
func math64Bits(v float64) uint64      { return math.Float64bits(v) }
func math64FromBits(v uint64) float64  { return math.Float64frombits(v) }
