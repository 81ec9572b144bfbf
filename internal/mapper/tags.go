package mapper

import (
	"sort"

	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

// ClassFor returns the destination object class for a mapped figure. Class
// names pass through unchanged; the destination class is geometry-typed by
// the figure's shape, so the same source class observed with two geometries
// resolves to two destination classes.
func ClassFor(figure sly.Figure) sly.ObjClass {
	return sly.ObjClass{
		Name:     figure.Class,
		Geometry: figure.Shape.GeometryName(),
	}
}

// MapTag converts one source tag into a destination tag. Frame-level tags
// keep the frame they were observed at as a single-frame range; item-level
// tags carry no range. Source tags with a value become any-string tags so
// the information is not lost.
func MapTag(tag models.Tag) sly.Tag {
	meta := sly.TagMeta{Name: tag.Name, ValueType: sly.TagValueNone}
	if tag.Value != "" {
		meta.ValueType = sly.TagValueAnyString
	}

	mapped := sly.Tag{Meta: meta, Value: tag.Value}
	if tag.Frame != nil {
		mapped.FrameRange = &[2]int{*tag.Frame, *tag.Frame}
	}
	return mapped
}

// attributeTags preserves source attributes as any-string destination tags,
// sorted by name so the output is deterministic regardless of map order.
func attributeTags(attributes map[string]string) []sly.Tag {
	if len(attributes) == 0 {
		return nil
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	tags := make([]sly.Tag, 0, len(names))
	for _, name := range names {
		tags = append(tags, sly.Tag{
			Meta:  sly.TagMeta{Name: name, ValueType: sly.TagValueAnyString},
			Value: attributes[name],
		})
	}
	return tags
}
