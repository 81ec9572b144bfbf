// Package mapper translates decoded source labels into destination figures
// and tags. All functions are pure: no I/O, no shared state.
package mapper

import (
	"sort"

	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

// Result is the outcome for one intermediate label: either one or more
// destination figures, or a skip reason. Exactly one of the two is set.
// A point-set label fans out into one figure per point; every other
// supported kind maps to a single figure.
type Result struct {
	Figures []sly.Figure
	Skip    models.ReasonCode
}

// Skipped reports whether the label was skipped rather than mapped.
func (r Result) Skipped() bool { return r.Skip != "" }

// MapLabel converts one intermediate label into destination figures. The
// switch is exhaustive over the closed geometry kind set; cuboid and ellipse
// are skipped by policy because the destination has no equivalent primitive.
func MapLabel(label models.IntermediateLabel) Result {
	g := label.Geometry

	switch g.Kind {
	case models.KindRectangle:
		return single(label, sly.Rectangle{
			Top:    int(g.YTL),
			Left:   int(g.XTL),
			Bottom: int(g.YBR),
			Right:  int(g.XBR),
		})

	case models.KindPolygon:
		return single(label, sly.Polygon{Exterior: toLocations(g.Vertices)})

	case models.KindPolyline:
		return single(label, sly.Polyline{Exterior: toLocations(g.Vertices)})

	case models.KindPoints:
		// The source encodes several points in one label; the destination
		// keeps one figure per point.
		figures := make([]sly.Figure, 0, len(g.Vertices))
		for _, v := range g.Vertices {
			figures = append(figures, sly.Figure{
				Class: label.Class,
				Shape: sly.Point{PointLocation: sly.PointLocation{Row: int(v.Y), Col: int(v.X)}},
				Frame: label.Frame,
				Tags:  attributeTags(label.Attributes),
			})
		}
		return Result{Figures: figures}

	case models.KindSkeleton:
		nodes := make([]sly.GraphNode, 0, len(g.Nodes))
		for _, n := range g.Nodes {
			nodes = append(nodes, sly.GraphNode{
				Label: n.Label,
				Row:   int(n.Point.Y),
				Col:   int(n.Point.X),
			})
		}
		// Node order follows keypoint names so the graph template is stable
		// across documents.
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Label < nodes[j].Label })
		return single(label, sly.Graph{Nodes: nodes})

	case models.KindMask:
		bitmap, ok := decodeMask(g.Mask)
		if !ok {
			return Result{Skip: models.ReasonMalformedLabel}
		}
		return single(label, bitmap)

	case models.KindCuboid:
		return Result{Skip: models.ReasonUnsupportedCuboid}

	case models.KindEllipse:
		return Result{Skip: models.ReasonUnsupportedEllipse}

	default:
		return Result{Skip: models.ReasonUnknownGeometry}
	}
}

func single(label models.IntermediateLabel, shape sly.Shape) Result {
	return Result{Figures: []sly.Figure{{
		Class: label.Class,
		Shape: shape,
		Frame: label.Frame,
		Tags:  attributeTags(label.Attributes),
	}}}
}

// toLocations normalizes source (x, y) float vertices to destination
// (row, col) integer locations, preserving order and count exactly.
func toLocations(vertices []models.Point) []sly.PointLocation {
	locations := make([]sly.PointLocation, 0, len(vertices))
	for _, v := range vertices {
		locations = append(locations, sly.PointLocation{Row: int(v.Y), Col: int(v.X)})
	}
	return locations
}

// decodeMask expands an RLE payload into a destination bitmap. Returns
// ok=false when the payload is inconsistent with its declared dimensions.
func decodeMask(mask *models.MaskPayload) (sly.Bitmap, bool) {
	if mask == nil {
		return sly.Bitmap{}, false
	}

	switch mask.Encoding {
	case models.MaskRunLengths:
		return decodeRunLengths(mask)
	case models.MaskDensePairs:
		return decodeDensePairs(mask)
	default:
		return sly.Bitmap{}, false
	}
}

// decodeRunLengths decodes alternating run counts, starting with background,
// addressed row-major inside the annotation bounding box.
func decodeRunLengths(mask *models.MaskPayload) (sly.Bitmap, bool) {
	if mask.Width <= 0 || mask.Height <= 0 {
		return sly.Bitmap{}, false
	}

	data := make([][]bool, mask.Height)
	for i := range data {
		data[i] = make([]bool, mask.Width)
	}

	value := false
	offset := 0
	for _, count := range mask.Counts {
		if count < 0 {
			return sly.Bitmap{}, false
		}
		for ; count > 0; count-- {
			row := offset / mask.Width
			col := offset % mask.Width
			if row >= mask.Height {
				return sly.Bitmap{}, false
			}
			data[row][col] = value
			offset++
		}
		value = !value
	}

	return sly.Bitmap{
		Origin: sly.PointLocation{Row: mask.Top, Col: mask.Left},
		Data:   data,
	}, true
}

// decodeDensePairs decodes value/count pairs spanning the whole image.
func decodeDensePairs(mask *models.MaskPayload) (sly.Bitmap, bool) {
	if mask.ImageWidth <= 0 || mask.ImageHeight <= 0 || len(mask.Counts)%2 != 0 {
		return sly.Bitmap{}, false
	}

	total := mask.ImageWidth * mask.ImageHeight
	data := make([][]bool, mask.ImageHeight)
	for i := range data {
		data[i] = make([]bool, mask.ImageWidth)
	}

	offset := 0
	for i := 0; i < len(mask.Counts); i += 2 {
		value := mask.Counts[i] != 0
		count := mask.Counts[i+1]
		if count < 0 || offset+count > total {
			return sly.Bitmap{}, false
		}
		for ; count > 0; count-- {
			data[offset/mask.ImageWidth][offset%mask.ImageWidth] = value
			offset++
		}
	}
	if offset != total {
		return sly.Bitmap{}, false
	}

	return sly.Bitmap{Data: data}, true
}
