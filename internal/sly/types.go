// Package sly models the destination platform's project/dataset/item/
// annotation object graph and provides the HTTP uploader for it.
package sly

import (
	"github.com/labelops/annoport/internal/models"
)

// Geometry names the destination platform understands.
const (
	GeometryRectangle = "rectangle"
	GeometryPolygon   = "polygon"
	GeometryPolyline  = "line"
	GeometryPoint     = "point"
	GeometryGraph     = "graph"
	GeometryBitmap    = "bitmap"
)

// Tag value types of the destination schema.
const (
	TagValueNone      = "none"
	TagValueAnyString = "any_string"
)

// PointLocation is a destination-space vertex: integer pixels, row grows
// down, col grows right.
type PointLocation struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Shape is one destination geometric primitive. Implementations are the
// structs below; GeometryName returns the destination schema name used in
// object classes and wire payloads.
type Shape interface {
	GeometryName() string
}

// Rectangle is an axis-aligned box.
type Rectangle struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
}

func (Rectangle) GeometryName() string { return GeometryRectangle }

// Polygon is a closed exterior ring. Vertex order is preserved from the
// source exactly.
type Polygon struct {
	Exterior []PointLocation `json:"exterior"`
}

func (Polygon) GeometryName() string { return GeometryPolygon }

// Polyline is an open vertex chain.
type Polyline struct {
	Exterior []PointLocation `json:"exterior"`
}

func (Polyline) GeometryName() string { return GeometryPolyline }

// Point is a single location.
type Point struct {
	PointLocation
}

func (Point) GeometryName() string { return GeometryPoint }

// GraphNode is one named keypoint of a graph shape.
type GraphNode struct {
	Label string `json:"label"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
}

// Graph is a keypoint skeleton.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
}

func (Graph) GeometryName() string { return GeometryGraph }

// Bitmap is a binary raster mask placed at Origin. Data is row-major with
// dimensions independent of the full image.
type Bitmap struct {
	Origin PointLocation `json:"origin"`
	Data   [][]bool      `json:"data"`
}

func (Bitmap) GeometryName() string { return GeometryBitmap }

// ObjClass is a destination label class. Classes are geometry-typed on the
// destination side, so the pair (Name, Geometry) identifies a class.
type ObjClass struct {
	Name     string `json:"name"`
	Geometry string `json:"geometry"`
}

// TagMeta describes a destination tag.
type TagMeta struct {
	Name      string `json:"name"`
	ValueType string `json:"value_type"`
}

// Tag is an applied tag. FrameRange is nil for item-level tags; frame-level
// tags carry the inclusive [first, last] range they were observed at.
type Tag struct {
	Meta       TagMeta `json:"meta"`
	Value      string  `json:"value,omitempty"`
	FrameRange *[2]int `json:"frame_range,omitempty"`
}

// Figure is one converted annotation instance: a shape bound to a class at a
// frame. Frame is always 0 for image items.
type Figure struct {
	Class string
	Shape Shape
	Frame int
	Tags  []Tag
}

// Frame groups the figures of one video frame.
type Frame struct {
	Index   int
	Figures []Figure
}

// Annotation is the destination annotation of one item. Image items use
// Figures directly (all at frame 0); video items use Frames ordered by
// index. Size is (height, width).
type Annotation struct {
	Size       [2]int
	FrameCount int
	Figures    []Figure
	Frames     []Frame
	Tags       []Tag
}

// Item is one destination media entity with its annotation.
type Item struct {
	Name       string
	MediaPath  string
	Kind       models.MediaKind
	SourceID   string
	Annotation Annotation
}

// Dataset is a destination dataset inside a project.
type Dataset struct {
	Name  string
	Items []Item
}

// Project is a destination project scaffold, media-kind homogeneous by
// construction. SourceRef records where the content came from; Ref is filled
// by the uploader with the created project's reference.
type Project struct {
	Name      string
	Kind      models.MediaKind
	Meta      ProjectMeta
	Datasets  []Dataset
	SourceRef string
	Ref       string
}

// ProjectMeta is the label schema of a project: object classes and tag
// metas, both extended on demand and kept in first-seen order.
type ProjectMeta struct {
	Classes  []ObjClass
	TagMetas []TagMeta
}

// AddClass resolves an observed class idempotently: the same (name,
// geometry) pair always maps to the same class, new pairs are appended in
// first-seen order.
func (m *ProjectMeta) AddClass(c ObjClass) ObjClass {
	for _, existing := range m.Classes {
		if existing.Name == c.Name && existing.Geometry == c.Geometry {
			return existing
		}
	}
	m.Classes = append(m.Classes, c)
	return c
}

// AddTagMeta resolves an observed tag meta idempotently by name.
func (m *ProjectMeta) AddTagMeta(t TagMeta) TagMeta {
	for _, existing := range m.TagMetas {
		if existing.Name == t.Name {
			return existing
		}
	}
	m.TagMetas = append(m.TagMetas, t)
	return t
}
