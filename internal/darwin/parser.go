// Package darwin parses per-image JSON annotation documents. The geometry of
// a label is duck-typed in this format: the payload key that is present
// decides the kind, so detection happens before decoding.
package darwin

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/models"
)

type document struct {
	Item        itemMeta          `json:"item"`
	Annotations []json.RawMessage `json:"annotations"`
}

type itemMeta struct {
	Name  string     `json:"name"`
	Slots []slotMeta `json:"slots"`
}

type slotMeta struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// annotation mirrors one entry of the annotations array. Exactly one of the
// geometry payloads is expected to be present.
type annotation struct {
	Name        string      `json:"name"`
	BoundingBox *boundingBox `json:"bounding_box"`
	Polygon     *polygon     `json:"polygon"`
	Line        *line        `json:"line"`
	Keypoint    *vertex      `json:"keypoint"`
	Skeleton    *skeleton    `json:"skeleton"`
	RasterLayer *rasterLayer `json:"raster_layer"`
	Ellipse     *ellipse     `json:"ellipse"`
	CuboidBox   *cuboidBox   `json:"cuboid"`
	Tag         *struct{}    `json:"tag"`
	Text        *textBlock   `json:"text"`
	Attributes  []string     `json:"attributes"`
	Confidence  *float64     `json:"confidence"`
}

type boundingBox struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	W *float64 `json:"w"`
	H *float64 `json:"h"`
}

type polygon struct {
	Paths [][]vertex `json:"paths"`
}

type line struct {
	Path []vertex `json:"path"`
}

type vertex struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type skeleton struct {
	Nodes []skeletonNode `json:"nodes"`
}

type skeletonNode struct {
	Name string   `json:"name"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
}

type rasterLayer struct {
	DenseRLE []int `json:"dense_rle"`
}

type ellipse struct{}

type cuboidBox struct{}

type textBlock struct {
	Text string `json:"text"`
}

// ParseImage decodes one per-image document. Labels whose geometry payload
// is missing or incomplete become malformed-label skips; an unparsable
// top-level document is an error and emits nothing.
func ParseImage(doc []byte) (*models.ParsedItem, error) {
	var parsed document
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, errors.Wrap(err, "unparsable item document")
	}

	item := &models.ParsedItem{FrameCount: 1}
	if len(parsed.Item.Slots) > 0 {
		item.Height = parsed.Item.Slots[0].Height
		item.Width = parsed.Item.Slots[0].Width
	}

	for _, raw := range parsed.Annotations {
		var label annotation
		if err := json.Unmarshal(raw, &label); err != nil {
			item.Skipped = append(item.Skipped, models.Skip{Reason: models.ReasonMalformedLabel})
			continue
		}

		if label.Tag != nil {
			item.Tags = append(item.Tags, models.Tag{Name: label.Name})
			continue
		}

		geometry, err := convertLabel(label, raw, item.Height, item.Width)
		if err != nil {
			item.Skipped = append(item.Skipped, models.Skip{
				Reason: models.ReasonMalformedLabel,
				Class:  label.Name,
			})
			continue
		}

		item.Labels = append(item.Labels, models.IntermediateLabel{
			Class:      label.Name,
			Geometry:   geometry,
			Attributes: attributeMap(label),
			Confidence: label.Confidence,
		})
	}

	return item, nil
}

// convertLabel picks the geometry kind from the payload keys and decodes it.
// A bounding box accompanying a richer geometry is ignored in its favor, the
// way the source platform exports both for the same instance.
func convertLabel(label annotation, raw json.RawMessage, imageHeight, imageWidth int) (models.Geometry, error) {
	switch {
	case label.Polygon != nil:
		if len(label.Polygon.Paths) == 0 {
			return models.Geometry{}, errors.New("polygon has no paths")
		}
		vertices, err := convertPath(label.Polygon.Paths[0])
		if err != nil {
			return models.Geometry{}, err
		}
		return models.Geometry{Kind: models.KindPolygon, Vertices: vertices}, nil

	case label.Line != nil:
		vertices, err := convertPath(label.Line.Path)
		if err != nil {
			return models.Geometry{}, err
		}
		return models.Geometry{Kind: models.KindPolyline, Vertices: vertices}, nil

	case label.Keypoint != nil:
		if label.Keypoint.X == nil || label.Keypoint.Y == nil {
			return models.Geometry{}, errors.New("keypoint is missing coordinates")
		}
		return models.Geometry{
			Kind:     models.KindPoints,
			Vertices: []models.Point{{X: *label.Keypoint.X, Y: *label.Keypoint.Y}},
		}, nil

	case label.Skeleton != nil:
		if len(label.Skeleton.Nodes) == 0 {
			return models.Geometry{}, errors.New("skeleton has no nodes")
		}
		nodes := make([]models.SkeletonNode, 0, len(label.Skeleton.Nodes))
		for _, node := range label.Skeleton.Nodes {
			if node.X == nil || node.Y == nil {
				return models.Geometry{}, errors.New("skeleton node is missing coordinates")
			}
			nodes = append(nodes, models.SkeletonNode{
				Label: node.Name,
				Point: models.Point{X: *node.X, Y: *node.Y},
			})
		}
		return models.Geometry{Kind: models.KindSkeleton, Nodes: nodes}, nil

	case label.RasterLayer != nil:
		if len(label.RasterLayer.DenseRLE) == 0 {
			return models.Geometry{}, errors.New("raster layer has no rle data")
		}
		if imageHeight <= 0 || imageWidth <= 0 {
			return models.Geometry{}, errors.New("raster layer needs the image size")
		}
		return models.Geometry{Kind: models.KindMask, Mask: &models.MaskPayload{
			Encoding:    models.MaskDensePairs,
			Counts:      label.RasterLayer.DenseRLE,
			ImageWidth:  imageWidth,
			ImageHeight: imageHeight,
		}}, nil

	case label.Ellipse != nil:
		return models.Geometry{Kind: models.KindEllipse}, nil

	case label.CuboidBox != nil:
		return models.Geometry{Kind: models.KindCuboid}, nil

	case label.BoundingBox != nil:
		box := label.BoundingBox
		if box.X == nil || box.Y == nil || box.W == nil || box.H == nil {
			return models.Geometry{}, errors.New("bounding box is missing coordinates")
		}
		return models.Geometry{
			Kind: models.KindRectangle,
			XTL:  *box.X,
			YTL:  *box.Y,
			XBR:  *box.X + *box.W,
			YBR:  *box.Y + *box.H,
		}, nil

	default:
		return models.Geometry{Kind: models.KindUnknown, RawKind: unknownKind(raw)}, nil
	}
}

func convertPath(path []vertex) ([]models.Point, error) {
	if len(path) == 0 {
		return nil, errors.New("path has no points")
	}
	points := make([]models.Point, 0, len(path))
	for _, v := range path {
		if v.X == nil || v.Y == nil {
			return nil, errors.New("path point is missing coordinates")
		}
		points = append(points, models.Point{X: *v.X, Y: *v.Y})
	}
	return points, nil
}

// unknownKind picks the first non-metadata key of the label as its reported
// geometry name. Best effort, only used for skip reporting.
func unknownKind(raw json.RawMessage) string {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ""
	}
	known := map[string]bool{
		"name": true, "id": true, "slot_names": true, "annotators": true,
		"reviewers": true, "updated_at": true, "attributes": true,
		"confidence": true, "text": true, "properties": true,
	}
	for key := range generic {
		if !known[key] {
			return key
		}
	}
	return ""
}

func attributeMap(label annotation) map[string]string {
	if len(label.Attributes) == 0 && label.Text == nil {
		return nil
	}
	attributes := make(map[string]string)
	for _, name := range label.Attributes {
		attributes[name] = "true"
	}
	if label.Text != nil {
		attributes["text"] = label.Text.Text
	}
	return attributes
}
