package models

// MediaKind distinguishes image items from video items. The destination
// platform keeps one media kind per project, so the kind drives the
// project-split policy in the assembler.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// DocFormat identifies the annotation document family of a source item.
type DocFormat string

const (
	// FormatTaskXML is the XML task export: one document per task, covering
	// either a set of images or all frames of a single video.
	FormatTaskXML DocFormat = "task-xml"

	// FormatItemJSON is the JSON export: one document per image.
	FormatItemJSON DocFormat = "item-json"
)

// SourceItem is one media unit (an image or a video) together with its raw
// annotation document. For FormatTaskXML image items the document covers the
// whole task and ItemRef selects the image inside it; for video items and
// FormatItemJSON the document belongs to the item alone.
type SourceItem struct {
	ID         string
	Name       string
	Dataset    string // logical source dataset this item belongs to
	Kind       MediaKind
	Format     DocFormat
	ItemRef    string // image name inside a task document, empty otherwise
	MediaPath  string // local path to the media file
	SourceRef  string // where the item came from: a path or a platform URL
	Annotation []byte // raw annotation document
}

// GeometryKind enumerates the geometric primitives of the source schema as a
// closed set. Adding a kind must extend the mapper's switch, which is
// exhaustive over these values.
type GeometryKind int

const (
	KindUnknown GeometryKind = iota
	KindRectangle
	KindPolygon
	KindPolyline
	KindPoints
	KindSkeleton
	KindMask
	KindCuboid
	KindEllipse
)

// String returns the lowercase source-schema name of the kind.
func (k GeometryKind) String() string {
	switch k {
	case KindRectangle:
		return "rectangle"
	case KindPolygon:
		return "polygon"
	case KindPolyline:
		return "polyline"
	case KindPoints:
		return "points"
	case KindSkeleton:
		return "skeleton"
	case KindMask:
		return "mask"
	case KindCuboid:
		return "cuboid"
	case KindEllipse:
		return "ellipse"
	default:
		return "unknown"
	}
}

// Point is a source-space vertex: x grows right, y grows down, both in
// floating-point pixels as the source formats encode them.
type Point struct {
	X float64
	Y float64
}

// SkeletonNode is one named keypoint of a skeleton geometry.
type SkeletonNode struct {
	Label string
	Point Point
}

// MaskEncoding distinguishes the two RLE layouts the source formats use.
type MaskEncoding int

const (
	// MaskRunLengths: alternating run counts starting with background,
	// addressed row-major inside the annotation bounding box.
	MaskRunLengths MaskEncoding = iota

	// MaskDensePairs: value/count pairs addressed row-major over the whole
	// image.
	MaskDensePairs
)

// MaskPayload carries an undecoded raster mask. Decoding to a binary bitmap
// happens in the geometry mapper, not in the parser.
type MaskPayload struct {
	Encoding MaskEncoding
	Counts   []int

	// Bounding box of the annotated region, MaskRunLengths only.
	Left   int
	Top    int
	Width  int
	Height int

	// Full image size, required to place or shape the decoded bitmap.
	ImageWidth  int
	ImageHeight int
}

// Geometry is the tagged variant for one annotation instance. Exactly the
// payload matching Kind is set; the rest stay nil/empty. Cuboid and ellipse
// instances carry no payload because the mapper always skips them.
type Geometry struct {
	Kind GeometryKind

	// Rectangle corners, KindRectangle only.
	XTL, YTL, XBR, YBR float64

	// Vertex list for polygon, polyline and point-set kinds.
	Vertices []Point

	// Named keypoints, KindSkeleton only.
	Nodes []SkeletonNode

	// Raster payload, KindMask only.
	Mask *MaskPayload

	// Original kind tag for KindUnknown, kept for reporting.
	RawKind string
}

// IntermediateLabel is one decoded annotation instance, decoupled from both
// source wire formats. Frame is always 0 for image items.
type IntermediateLabel struct {
	Frame      int
	Geometry   Geometry
	Class      string
	Attributes map[string]string
	Confidence *float64
}

// Tag is a classification mark decoded from the source document. Frame is
// nil for item-level tags and set for frame-level (video) tags.
type Tag struct {
	Name  string
	Value string
	Frame *int
}

// Skip records a label that could not be carried over, with the reason.
type Skip struct {
	Reason ReasonCode
	Class  string
	Frame  int
}

// ParsedItem is the parser output for one source item: the ordered label
// list plus document-level metadata needed downstream.
type ParsedItem struct {
	Labels  []IntermediateLabel
	Tags    []Tag
	Skipped []Skip // MALFORMED_LABEL entries, label-fatal only

	// Declared media size, zero when the document does not state it.
	Height int
	Width  int

	// Declared video name from the document, video items only.
	VideoName string

	// Number of frames the document declares, 1 for images.
	FrameCount int
}
