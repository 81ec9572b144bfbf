package models

// ReasonCode classifies why a label was skipped or an item failed. Skip
// reasons are counted separately from failures and never escalate an item.
type ReasonCode string

const (
	ReasonParseError         ReasonCode = "PARSE_ERROR"
	ReasonMalformedLabel     ReasonCode = "MALFORMED_LABEL"
	ReasonUnsupportedCuboid  ReasonCode = "UNSUPPORTED_GEOMETRY_CUBOID"
	ReasonUnsupportedEllipse ReasonCode = "UNSUPPORTED_GEOMETRY_ELLIPSE"
	ReasonUnknownGeometry    ReasonCode = "UNKNOWN_GEOMETRY"
	ReasonUploadError        ReasonCode = "UPLOAD_ERROR"
)

// IsSkip reports whether the code is a label-level skip rather than an
// item-level failure.
func (r ReasonCode) IsSkip() bool {
	switch r {
	case ReasonMalformedLabel, ReasonUnsupportedCuboid, ReasonUnsupportedEllipse, ReasonUnknownGeometry:
		return true
	default:
		return false
	}
}

// ItemStage is the lifecycle state of one source item in the pipeline.
// Terminal stages are StageUploaded and StageFailed.
type ItemStage string

const (
	StagePending  ItemStage = "pending"
	StageParsed   ItemStage = "parsed"
	StageMapped   ItemStage = "mapped"
	StageUploaded ItemStage = "uploaded"
	StageFailed   ItemStage = "failed"
)

// ItemStatus is the externally visible state of one item: its stage, the
// failure reason when failed, and per-reason skip counts accumulated while
// mapping its labels.
type ItemStatus struct {
	ItemID   string
	Name     string
	Dataset  string
	Kind     MediaKind
	Stage    ItemStage
	Reason   ReasonCode // set when Stage == StageFailed
	Detail   string     // human-readable failure detail
	Labels   int        // labels successfully mapped
	Skips    map[ReasonCode]int
}
