// Package cvat parses XML task exports: per-image label sets and
// frame-addressed video label sets, including tracked shapes.
package cvat

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/models"
)

type document struct {
	XMLName xml.Name    `xml:"annotations"`
	Meta    meta        `xml:"meta"`
	Images  []imageElem `xml:"image"`
	Tracks  []trackElem `xml:"track"`
}

type meta struct {
	Task taskMeta `xml:"task"`
}

type taskMeta struct {
	Name         string       `xml:"name"`
	Size         int          `xml:"size"`
	Mode         string       `xml:"mode"`
	Source       string       `xml:"source"`
	OriginalSize originalSize `xml:"original_size"`
}

type originalSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
}

type imageElem struct {
	ID     *int   `xml:"id,attr"`
	Name   string `xml:"name,attr"`
	Width  int    `xml:"width,attr"`
	Height int    `xml:"height,attr"`

	Boxes     []shapeElem `xml:"box"`
	Polygons  []shapeElem `xml:"polygon"`
	Polylines []shapeElem `xml:"polyline"`
	PointSets []shapeElem `xml:"points"`
	Masks     []shapeElem `xml:"mask"`
	Skeletons []shapeElem `xml:"skeleton"`
	Cuboids   []shapeElem `xml:"cuboid"`
	Ellipses  []shapeElem `xml:"ellipse"`
	Tags      []tagElem   `xml:"tag"`
	Unknown   []anyElem   `xml:",any"`
}

type trackElem struct {
	Label string `xml:"label,attr"`

	Boxes     []shapeElem `xml:"box"`
	Polygons  []shapeElem `xml:"polygon"`
	Polylines []shapeElem `xml:"polyline"`
	PointSets []shapeElem `xml:"points"`
	Masks     []shapeElem `xml:"mask"`
	Skeletons []shapeElem `xml:"skeleton"`
	Cuboids   []shapeElem `xml:"cuboid"`
	Ellipses  []shapeElem `xml:"ellipse"`
	Unknown   []anyElem   `xml:",any"`
}

// shapeElem covers every shape element; the attribute set actually used
// depends on the element name. Coordinates stay strings until conversion so
// a bad value skips only the one label.
type shapeElem struct {
	Label    string `xml:"label,attr"`
	Points   string `xml:"points,attr"`
	Frame    *int   `xml:"frame,attr"`
	Outside  string `xml:"outside,attr"`
	Occluded string `xml:"occluded,attr"`

	XTL string `xml:"xtl,attr"`
	YTL string `xml:"ytl,attr"`
	XBR string `xml:"xbr,attr"`
	YBR string `xml:"ybr,attr"`

	RLE    string `xml:"rle,attr"`
	Left   string `xml:"left,attr"`
	Top    string `xml:"top,attr"`
	Width  string `xml:"width,attr"`
	Height string `xml:"height,attr"`

	Nodes      []shapeElem `xml:"points"`
	Attributes []attrElem  `xml:"attribute"`
}

type tagElem struct {
	Label      string     `xml:"label,attr"`
	Attributes []attrElem `xml:"attribute"`
}

type attrElem struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type anyElem struct {
	XMLName xml.Name
	Label   string `xml:"label,attr"`
	Frame   *int   `xml:"frame,attr"`
}

// Info is the document-level metadata discovery needs before items exist.
type Info struct {
	TaskName   string
	Source     string // declared video name, video tasks only
	Mode       string // "annotation" for image sets, "interpolation" for video
	FrameCount int
	ImageNames []string
}

// IsVideo reports whether the document describes a video task.
func (i Info) IsVideo() bool { return i.Mode == "interpolation" }

// ReadInfo parses only the document metadata and image listing.
func ReadInfo(doc []byte) (Info, error) {
	parsed, err := parse(doc)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		TaskName:   parsed.Meta.Task.Name,
		Source:     parsed.Meta.Task.Source,
		Mode:       parsed.Meta.Task.Mode,
		FrameCount: parsed.Meta.Task.Size,
	}
	for _, image := range parsed.Images {
		info.ImageNames = append(info.ImageNames, image.Name)
	}
	if info.Mode == "" && len(parsed.Tracks) > 0 {
		info.Mode = "interpolation"
	}
	return info, nil
}

// ParseImage extracts the labels of one image from a task document. Every
// label gets frame index 0. A malformed label is recorded as a skip and
// parsing continues; an unparsable document or a missing image is an error.
func ParseImage(doc []byte, imageName string) (*models.ParsedItem, error) {
	parsed, err := parse(doc)
	if err != nil {
		return nil, err
	}

	for _, image := range parsed.Images {
		if image.Name != imageName {
			continue
		}

		item := &models.ParsedItem{
			Height:     image.Height,
			Width:      image.Width,
			FrameCount: 1,
		}
		collectImage(item, image, nil)
		return item, nil
	}

	return nil, errors.Newf("image %q not found in task document", imageName)
}

// ParseVideo extracts all frame labels of a video task document. Labels come
// from frame-addressed image elements and from tracked shapes; a tracked
// shape marked outside ends the track's visible range and is not emitted.
func ParseVideo(doc []byte) (*models.ParsedItem, error) {
	parsed, err := parse(doc)
	if err != nil {
		return nil, err
	}

	item := &models.ParsedItem{
		Height:    parsed.Meta.Task.OriginalSize.Height,
		Width:     parsed.Meta.Task.OriginalSize.Width,
		VideoName: parsed.Meta.Task.Source,
	}
	if item.VideoName == "" {
		item.VideoName = parsed.Meta.Task.Name
	}

	maxFrame := -1
	for _, image := range parsed.Images {
		frame := 0
		if image.ID != nil {
			frame = *image.ID
		}
		if image.Height > item.Height {
			item.Height = image.Height
		}
		if image.Width > item.Width {
			item.Width = image.Width
		}
		collectImage(item, image, &frame)
		if frame > maxFrame {
			maxFrame = frame
		}
	}

	for _, track := range parsed.Tracks {
		frames := collectTrack(item, track)
		if frames > maxFrame {
			maxFrame = frames
		}
	}

	item.FrameCount = parsed.Meta.Task.Size
	if item.FrameCount <= maxFrame {
		item.FrameCount = maxFrame + 1
	}
	return item, nil
}

func parse(doc []byte) (*document, error) {
	var parsed document
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		return nil, errors.Wrap(err, "unparsable task document")
	}
	return &parsed, nil
}

// collectImage converts one image element's shapes and tags. frame is nil
// for image sets (index 0) and set for frame-addressed video elements.
func collectImage(item *models.ParsedItem, image imageElem, frame *int) {
	idx := 0
	if frame != nil {
		idx = *frame
	}

	groups := []struct {
		kind   models.GeometryKind
		shapes []shapeElem
	}{
		{models.KindRectangle, image.Boxes},
		{models.KindPolygon, image.Polygons},
		{models.KindPolyline, image.Polylines},
		{models.KindPoints, image.PointSets},
		{models.KindMask, image.Masks},
		{models.KindSkeleton, image.Skeletons},
		{models.KindCuboid, image.Cuboids},
		{models.KindEllipse, image.Ellipses},
	}
	for _, group := range groups {
		for _, shape := range group.shapes {
			addShape(item, group.kind, shape, idx, image.Height, image.Width)
		}
	}

	for _, unknown := range image.Unknown {
		item.Labels = append(item.Labels, models.IntermediateLabel{
			Frame:    idx,
			Class:    unknown.Label,
			Geometry: models.Geometry{Kind: models.KindUnknown, RawKind: unknown.XMLName.Local},
		})
	}

	var tagFrame *int
	if frame != nil {
		f := *frame
		tagFrame = &f
	}
	for _, tag := range image.Tags {
		value := ""
		for _, attr := range tag.Attributes {
			value = strings.TrimSpace(attr.Value)
			break
		}
		item.Tags = append(item.Tags, models.Tag{Name: tag.Label, Value: value, Frame: tagFrame})
	}
}

// collectTrack converts one track's per-frame shapes. Returns the highest
// frame index seen so the caller can size the frame count.
func collectTrack(item *models.ParsedItem, track trackElem) int {
	maxFrame := -1

	groups := []struct {
		kind   models.GeometryKind
		shapes []shapeElem
	}{
		{models.KindRectangle, track.Boxes},
		{models.KindPolygon, track.Polygons},
		{models.KindPolyline, track.Polylines},
		{models.KindPoints, track.PointSets},
		{models.KindMask, track.Masks},
		{models.KindSkeleton, track.Skeletons},
		{models.KindCuboid, track.Cuboids},
		{models.KindEllipse, track.Ellipses},
	}
	for _, group := range groups {
		for _, shape := range group.shapes {
			if shape.Outside == "1" {
				// The shape left the scene at this frame; the range before
				// it stays as emitted, nothing is interpolated past it.
				continue
			}
			frame := 0
			if shape.Frame != nil {
				frame = *shape.Frame
			}
			if shape.Label == "" {
				shape.Label = track.Label
			}
			addShape(item, group.kind, shape, frame, item.Height, item.Width)
			if frame > maxFrame {
				maxFrame = frame
			}
		}
	}

	for _, unknown := range track.Unknown {
		frame := 0
		if unknown.Frame != nil {
			frame = *unknown.Frame
		}
		label := unknown.Label
		if label == "" {
			label = track.Label
		}
		item.Labels = append(item.Labels, models.IntermediateLabel{
			Frame:    frame,
			Class:    label,
			Geometry: models.Geometry{Kind: models.KindUnknown, RawKind: unknown.XMLName.Local},
		})
		if frame > maxFrame {
			maxFrame = frame
		}
	}

	return maxFrame
}

// addShape converts one shape element to an intermediate label, or records a
// malformed-label skip when its payload does not decode.
func addShape(item *models.ParsedItem, kind models.GeometryKind, shape shapeElem, frame, imageHeight, imageWidth int) {
	geometry, err := convertShape(kind, shape, imageHeight, imageWidth)
	if err != nil {
		item.Skipped = append(item.Skipped, models.Skip{
			Reason: models.ReasonMalformedLabel,
			Class:  shape.Label,
			Frame:  frame,
		})
		return
	}

	item.Labels = append(item.Labels, models.IntermediateLabel{
		Frame:      frame,
		Class:      shape.Label,
		Geometry:   geometry,
		Attributes: attributeMap(shape),
	})
}

func convertShape(kind models.GeometryKind, shape shapeElem, imageHeight, imageWidth int) (models.Geometry, error) {
	switch kind {
	case models.KindRectangle:
		xtl, err1 := strconv.ParseFloat(shape.XTL, 64)
		ytl, err2 := strconv.ParseFloat(shape.YTL, 64)
		xbr, err3 := strconv.ParseFloat(shape.XBR, 64)
		ybr, err4 := strconv.ParseFloat(shape.YBR, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return models.Geometry{}, errors.New("box is missing corner coordinates")
		}
		return models.Geometry{Kind: kind, XTL: xtl, YTL: ytl, XBR: xbr, YBR: ybr}, nil

	case models.KindPolygon, models.KindPolyline, models.KindPoints:
		vertices, err := parsePoints(shape.Points)
		if err != nil {
			return models.Geometry{}, err
		}
		return models.Geometry{Kind: kind, Vertices: vertices}, nil

	case models.KindSkeleton:
		if len(shape.Nodes) == 0 {
			return models.Geometry{}, errors.New("skeleton has no keypoints")
		}
		nodes := make([]models.SkeletonNode, 0, len(shape.Nodes))
		for _, node := range shape.Nodes {
			vertices, err := parsePoints(node.Points)
			if err != nil || len(vertices) == 0 {
				return models.Geometry{}, errors.New("skeleton keypoint has no coordinates")
			}
			nodes = append(nodes, models.SkeletonNode{Label: node.Label, Point: vertices[0]})
		}
		return models.Geometry{Kind: kind, Nodes: nodes}, nil

	case models.KindMask:
		if imageHeight <= 0 || imageWidth <= 0 {
			return models.Geometry{}, errors.New("mask needs the image size")
		}
		counts, err := parseCounts(shape.RLE)
		if err != nil {
			return models.Geometry{}, err
		}
		left, err1 := strconv.Atoi(shape.Left)
		top, err2 := strconv.Atoi(shape.Top)
		width, err3 := strconv.Atoi(shape.Width)
		height, err4 := strconv.Atoi(shape.Height)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return models.Geometry{}, errors.New("mask is missing its bounding box")
		}
		return models.Geometry{Kind: kind, Mask: &models.MaskPayload{
			Encoding:    models.MaskRunLengths,
			Counts:      counts,
			Left:        left,
			Top:         top,
			Width:       width,
			Height:      height,
			ImageWidth:  imageWidth,
			ImageHeight: imageHeight,
		}}, nil

	case models.KindCuboid, models.KindEllipse:
		// Carried through for the mapper's skip policy; no payload needed.
		return models.Geometry{Kind: kind}, nil

	default:
		return models.Geometry{Kind: models.KindUnknown}, nil
	}
}

// parsePoints decodes the "x,y;x,y;..." attribute format.
func parsePoints(raw string) ([]models.Point, error) {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), ";")
	if raw == "" {
		return nil, errors.New("shape has no points")
	}

	pairs := strings.Split(raw, ";")
	points := make([]models.Point, 0, len(pairs))
	for _, pair := range pairs {
		coordinates := strings.Split(strings.TrimSpace(pair), ",")
		if len(coordinates) != 2 {
			return nil, errors.Newf("malformed point pair %q", pair)
		}
		x, err1 := strconv.ParseFloat(strings.TrimSpace(coordinates[0]), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(coordinates[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, errors.Newf("malformed point pair %q", pair)
		}
		points = append(points, models.Point{X: x, Y: y})
	}
	return points, nil
}

// parseCounts decodes the comma-separated RLE attribute.
func parseCounts(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("mask has no rle data")
	}

	fields := strings.Split(raw, ",")
	counts := make([]int, 0, len(fields))
	for _, field := range fields {
		count, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Wrap(err, "malformed rle value")
		}
		counts = append(counts, count)
	}
	return counts, nil
}

func attributeMap(shape shapeElem) map[string]string {
	if len(shape.Attributes) == 0 {
		return nil
	}
	attributes := make(map[string]string, len(shape.Attributes))
	for _, attr := range shape.Attributes {
		attributes[attr.Name] = strings.TrimSpace(attr.Value)
	}
	return attributes
}
