// Package geoload turns a territories GeoJSON — uploaded bytes or a
// fallback file on disk — into the in-memory dataset the aggregation and
// rendering layers work from.
//
// The loader never fails on missing attributes: a feature without a
// territory lands in the sentinel territory "0", a feature without a
// usable weight counts as 1.0. Only unreadable input is an error, and the
// caller reports it as a non-fatal message.
package geoload

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"territory-balance-map/pkg/balance"
)

// Config is the explicit input configuration: uploaded bytes win over the
// fallback path. Keeping this a plain struct keeps loading testable
// without any HTTP or UI machinery around it.
type Config struct {
	Upload       []byte
	UploadName   string
	FallbackPath string
}

// ErrNoInput reports that neither an upload nor a readable fallback file
// was available. The UI shows its prompt instead of a table or map.
var ErrNoInput = errors.New("no input: upload a territories GeoJSON or provide a default file")

// Default attribute substitutions for features that lack them.
const (
	DefaultTerritory = "0"
	DefaultWeight    = 1.0
)

// Dataset is one loaded feature set. Collection keeps the (possibly
// reprojected) geometries for rendering; Features carries the parallel
// territory/weight pairs the aggregator consumes, index-aligned with
// Collection.Features.
type Dataset struct {
	Collection  *geojson.FeatureCollection
	Features    []balance.Feature
	Source      string
	Center      orb.Point // lon/lat of the area centroid, zero if unknown
	Bound       orb.Bound
	Reprojected bool
}

// Empty reports whether the file parsed fine but contained no features.
func (d *Dataset) Empty() bool { return d == nil || len(d.Features) == 0 }

// Load reads, decodes and normalizes one feature set. logf may be nil.
func Load(cfg Config, logf func(string, ...any)) (*Dataset, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	data := cfg.Upload
	source := "upload"
	if cfg.UploadName != "" {
		source = "upload:" + cfg.UploadName
	}
	if len(data) == 0 {
		if cfg.FallbackPath == "" {
			return nil, ErrNoInput
		}
		b, err := os.ReadFile(cfg.FallbackPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNoInput
			}
			return nil, fmt.Errorf("read %s: %w", cfg.FallbackPath, err)
		}
		data = b
		source = cfg.FallbackPath
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", source, err)
	}

	ds := &Dataset{Collection: fc, Source: source}
	if len(fc.Features) == 0 {
		return ds, nil
	}

	ds.Bound = collectionBound(fc)
	if looksWebMercator(ds.Bound) {
		// Best effort only: the table never needs coordinates, the map
		// just wants WGS84 for web display.
		logf("geoload: %s coordinates look like Web Mercator, reprojecting to WGS84", source)
		for _, f := range fc.Features {
			if f.Geometry != nil {
				f.Geometry = transformPoints(f.Geometry, mercatorToLatLon)
			}
		}
		ds.Bound = collectionBound(fc)
		ds.Reprojected = true
	}

	ds.Features = make([]balance.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		territory := territoryID(f.Properties["territory"])
		weight, ok := weightValue(f.Properties["weight"])
		if !ok {
			weight = DefaultWeight
		}
		// Write the normalized values back so tooltips and the join show
		// exactly what was aggregated.
		f.Properties["territory"] = territory
		f.Properties["weight"] = weight
		ds.Features = append(ds.Features, balance.Feature{Territory: territory, Weight: weight})
	}

	ds.Center = centroid(fc, ds.Bound)
	return ds, nil
}

// territoryID normalizes any scalar property value to the string key the
// aggregation groups on. JSON numbers keep their shortest representation,
// so 1 and 1.0 land in the same territory.
func territoryID(v any) string {
	switch t := v.(type) {
	case nil:
		return DefaultTerritory
	case string:
		if t == "" {
			return DefaultTerritory
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// weightValue extracts a numeric weight; anything non-numeric counts as
// absent so the caller substitutes the default instead of erroring.
func weightValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// collectionBound unions the bounds of every geometry in the collection.
func collectionBound(fc *geojson.FeatureCollection) orb.Bound {
	var b orb.Bound
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		gb := f.Geometry.Bound()
		if first {
			b = gb
			first = false
			continue
		}
		b = b.Union(gb)
	}
	return b
}

// centroid returns the area-weighted centroid across all polygonal
// geometries, the bound center when there is no area, or the zero point
// when there is nothing at all.
func centroid(fc *geojson.FeatureCollection, bound orb.Bound) orb.Point {
	var cx, cy, total float64
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		c, area := planar.CentroidArea(f.Geometry)
		area = math.Abs(area)
		if area == 0 {
			continue
		}
		cx += c[0] * area
		cy += c[1] * area
		total += area
	}
	if total > 0 {
		return orb.Point{cx / total, cy / total}
	}
	if bound.IsZero() {
		return orb.Point{}
	}
	return bound.Center()
}

// Web Mercator envelope: half the earth circumference at the equator.
const mercatorShift = math.Pi * 6378137.0

// looksWebMercator reports whether a bound exceeds valid lat/lon ranges
// but fits the EPSG:3857 envelope, which is how territories exported in
// projected meters present themselves.
func looksWebMercator(b orb.Bound) bool {
	outsideWGS84 := math.Abs(b.Min[0]) > 180.5 || math.Abs(b.Max[0]) > 180.5 ||
		math.Abs(b.Min[1]) > 90.5 || math.Abs(b.Max[1]) > 90.5
	const envelope = mercatorShift * 1.01
	insideMercator := math.Abs(b.Min[0]) <= envelope && math.Abs(b.Max[0]) <= envelope &&
		math.Abs(b.Min[1]) <= envelope && math.Abs(b.Max[1]) <= envelope
	return outsideWGS84 && insideMercator
}

// mercatorToLatLon inverts the spherical Web Mercator projection.
func mercatorToLatLon(p orb.Point) orb.Point {
	lon := p[0] / mercatorShift * 180.0
	lat := 180.0 / math.Pi * (2.0*math.Atan(math.Exp(p[1]/mercatorShift*math.Pi)) - math.Pi/2.0)
	return orb.Point{lon, lat}
}

// transformPoints applies f to every coordinate of g, returning a new
// geometry of the same shape.
func transformPoints(g orb.Geometry, f func(orb.Point) orb.Point) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return f(t)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = transformPoints(ls, f).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = f(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = transformPoints(r, f).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = transformPoints(p, f).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, sub := range t {
			out[i] = transformPoints(sub, f)
		}
		return out
	default:
		return g
	}
}
