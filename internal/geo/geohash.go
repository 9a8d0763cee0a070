package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

// StoredGeohashPrecision is the precision report locations are persisted at.
// Cell lookups match by prefix, so query precisions must not exceed it.
const StoredGeohashPrecision uint = 9

// maxGeohashPrecision is the longest hash the encoder supports.
const maxGeohashPrecision uint = 12

// Geohash encodes c at the given precision (characters).
func Geohash(c Coordinate, precision uint) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lng, precision)
}

// GeohashCells returns the cell containing c followed by its eight neighbours.
func GeohashCells(c Coordinate, precision uint) []string {
	hash := Geohash(c, precision)
	return append([]string{hash}, geohash.Neighbors(hash)...)
}

// CellPrecisionForRadius returns the finest precision, at most maxPrecision,
// whose cells around c are at least radiusM meters on their shorter side. A
// circle of that radius centred in a cell then fits inside the cell and its
// neighbours.
func CellPrecisionForRadius(c Coordinate, radiusM float64, maxPrecision uint) uint {
	if maxPrecision > maxGeohashPrecision {
		maxPrecision = maxGeohashPrecision
	}
	cosLat := math.Cos(c.Lat * math.Pi / 180)
	for p := maxPrecision; p > 1; p-- {
		bits := 5 * p
		lngBits := (bits + 1) / 2
		latBits := bits / 2
		height := 180 / math.Exp2(float64(latBits)) * metersPerDegree
		width := 360 / math.Exp2(float64(lngBits)) * metersPerDegree * cosLat
		if math.Min(height, width) >= radiusM {
			return p
		}
	}
	return 1
}
