package api

import (
	"github.com/paulmach/orb/geojson"

	"territory-balance-map/pkg/balance"
	"territory-balance-map/pkg/colorscale"
	"territory-balance-map/pkg/geoload"
)

// PromptMessage is shown whenever there is nothing to render yet.
const PromptMessage = "Upload a territories GeoJSON to begin."

// ScaleInfo describes the symmetric legend range for the frontend.
type ScaleInfo struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Gradient string  `json:"gradient"`
}

// View is the full render payload for one loaded dataset: headline
// metrics, the per-territory table, the color scale and the enriched
// FeatureCollection. It is what /api/features and a successful /upload
// return; /api/summary returns it without the features.
type View struct {
	Status      string                     `json:"status"` // "ok" or "empty"
	Message     string                     `json:"message,omitempty"`
	Source      string                     `json:"source,omitempty"`
	Territories int                        `json:"territories"`
	GrandTotal  float64                    `json:"grandTotal"`
	Target      float64                    `json:"target"`
	Worst       *balance.Summary           `json:"worst,omitempty"`
	Scale       *ScaleInfo                 `json:"scale,omitempty"`
	Center      [2]float64                 `json:"center"` // lat, lon
	Reprojected bool                       `json:"reprojected,omitempty"`
	Summaries   []balance.Summary          `json:"summaries,omitempty"`
	Features    *geojson.FeatureCollection `json:"features,omitempty"`
}

// EmptyView is the payload for "nothing loaded yet": the frontend shows
// the upload prompt instead of a table or map.
func EmptyView() View {
	return View{Status: "empty", Message: PromptMessage}
}

// BuildView aggregates the dataset and joins the per-territory summary
// fields back onto every feature so tooltips can show actual, target,
// deviation and pct_dev next to the territory id. Fill colors are
// assigned here, on the scale clipped to ±maxAbs, keeping the style
// mapping a pure computation the frontend only has to echo.
func BuildView(ds *geoload.Dataset) View {
	if ds.Empty() {
		return EmptyView()
	}

	report := balance.BuildReport(ds.Features)
	scale := colorscale.Symmetric(report.MaxAbs)
	lookup := balance.Lookup(report.Summaries)

	byID := make(map[string]balance.Summary, len(report.Summaries))
	for _, s := range report.Summaries {
		byID[s.Territory] = s
	}
	for i, f := range ds.Collection.Features {
		id := ds.Features[i].Territory
		s := byID[id]
		f.Properties["actual"] = s.Actual
		f.Properties["target"] = s.Target
		f.Properties["deviation"] = s.Deviation
		f.Properties["pct_dev"] = s.PctDev
		f.Properties["fillColor"] = colorscale.FillColor(id, lookup, scale)
	}

	worst := report.Worst
	return View{
		Status:      "ok",
		Source:      ds.Source,
		Territories: report.Territories(),
		GrandTotal:  report.GrandTotal,
		Target:      report.Target,
		Worst:       &worst,
		Scale: &ScaleInfo{
			Min:      -report.MaxAbs,
			Max:      report.MaxAbs,
			Gradient: scale.CSSGradient(),
		},
		Center:      [2]float64{ds.Center[1], ds.Center[0]},
		Reprojected: ds.Reprojected,
		Summaries:   report.Summaries,
		Features:    ds.Collection,
	}
}

// WithoutFeatures strips the geometry payload for the lightweight
// summary endpoint.
func (v View) WithoutFeatures() View {
	v.Features = nil
	return v
}
