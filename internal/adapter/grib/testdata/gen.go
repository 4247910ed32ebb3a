//go:build ignore

// gen writes t2m_tp.grib2: two GRIB2 messages on a 3x2 regular lat/lon grid
// (lat -20 to -30 north to south, lon 300 to 320 every 10 degrees), simple
// packing, no bitmap.
//
//	message 1: temperature (0/0/0) at 2 m above ground, 290..295 K
//	message 2: total precipitation (0/1/8) at the surface, 0.0..2.5
//
// Run with: go run gen.go
package main

import (
	"bytes"
	"encoding/binary"
	"log"
	"math"
	"os"
)

type field struct {
	category, number uint8
	surface, scale   uint8
	level            uint32
	reference        float32
	decimalScale     uint16
	packed           []byte
}

func main() {
	var out bytes.Buffer
	out.Write(message(field{category: 0, number: 0, surface: 103, level: 2, reference: 290,
		packed: []byte{0, 1, 2, 3, 4, 5}}))
	out.Write(message(field{category: 1, number: 8, surface: 1, level: 0, reference: 0, decimalScale: 1,
		packed: []byte{0, 5, 10, 15, 20, 25}}))
	if err := os.WriteFile("t2m_tp.grib2", out.Bytes(), 0o644); err != nil {
		log.Fatal(err)
	}
}

func signMagnitude(v int32) uint32 {
	if v < 0 {
		return 0x80000000 | uint32(-v)
	}
	return uint32(v)
}

func section(num uint8, body []byte) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(5+len(body)))
	b = append(b, num)
	return append(b, body...)
}

func message(f field) []byte {
	const points = 6
	be := binary.BigEndian

	s1 := []byte{0, 7, 0, 0, 2, 0, 1}
	s1 = be.AppendUint16(s1, 2025)
	s1 = append(s1, 12, 10, 0, 0, 0, 0, 1)

	s3 := []byte{0}
	s3 = be.AppendUint32(s3, points)
	s3 = append(s3, 0, 0)
	s3 = be.AppendUint16(s3, 0)
	s3 = append(s3, 6, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	s3 = be.AppendUint32(s3, 3) // Ni
	s3 = be.AppendUint32(s3, 2) // Nj
	s3 = be.AppendUint32(s3, 0)
	s3 = be.AppendUint32(s3, 0xffffffff)
	s3 = be.AppendUint32(s3, signMagnitude(-20_000_000))
	s3 = be.AppendUint32(s3, 300_000_000)
	s3 = append(s3, 0x30)
	s3 = be.AppendUint32(s3, signMagnitude(-30_000_000))
	s3 = be.AppendUint32(s3, 320_000_000)
	s3 = be.AppendUint32(s3, 10_000_000)
	s3 = be.AppendUint32(s3, 10_000_000)
	s3 = append(s3, 0x00)

	s4 := be.AppendUint16(nil, 0)
	s4 = be.AppendUint16(s4, 0)
	s4 = append(s4, f.category, f.number, 2, 0, 96)
	s4 = be.AppendUint16(s4, 0)
	s4 = append(s4, 0, 1)
	s4 = be.AppendUint32(s4, 6)
	s4 = append(s4, f.surface, f.scale)
	s4 = be.AppendUint32(s4, f.level)
	s4 = append(s4, 255, 0)
	s4 = be.AppendUint32(s4, 0)

	s5 := be.AppendUint32(nil, points)
	s5 = be.AppendUint16(s5, 0)
	s5 = be.AppendUint32(s5, math.Float32bits(f.reference))
	s5 = be.AppendUint16(s5, 0)
	s5 = be.AppendUint16(s5, f.decimalScale)
	s5 = append(s5, 8, 0)

	var body bytes.Buffer
	body.Write(section(1, s1))
	body.Write(section(3, s3))
	body.Write(section(4, s4))
	body.Write(section(5, s5))
	body.Write(section(6, []byte{255}))
	body.Write(section(7, f.packed))
	body.WriteString("7777")

	s0 := []byte{'G', 'R', 'I', 'B', 0, 0, 0, 2}
	s0 = be.AppendUint64(s0, uint64(16+body.Len()))
	return append(s0, body.Bytes()...)
}
