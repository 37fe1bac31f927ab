package filter

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/searchcore/searchcore/internal/geo"
)

// Expr is one node of a parsed filter expression (spec §6 filter grammar).
type Expr interface {
	eval(ctx *EvalContext) (*roaring.Bitmap, error)
}

// value is a filter literal: either a float64 or a string, matching spec
// §6 "strings compare lexicographically; numbers as f64".
type value struct {
	isString bool
	str      string
	num      float64
}

type orExpr struct{ left, right Expr }
type andExpr struct{ left, right Expr }
type notExpr struct{ inner Expr }

// compareExpr is `field op value`.
type compareExpr struct {
	field string
	op    string
	val   value
}

// inExpr is `field IN [v1, v2, ...]`.
type inExpr struct {
	field  string
	values []value
}

// rangeExpr is `field low TO high`.
type rangeExpr struct {
	field     string
	low, high value
}

// geoRadiusExpr is `_geoRadius(lat, lng, meters)`.
type geoRadiusExpr struct {
	center       geo.Point
	radiusMeters float64
}

// geoBoundingBoxExpr is `_geoBoundingBox((lat,lng),(lat,lng))`.
type geoBoundingBoxExpr struct {
	box geo.BoundingBox
}
