package sly

import (
	"github.com/labelops/annoport/internal/models"
)

// wireAnnotation renders an annotation into the JSON document the platform
// expects. Image annotations list objects flat; video annotations nest
// figures under their frames and declare objects once.
func wireAnnotation(ann Annotation, kind models.MediaKind) map[string]any {
	doc := map[string]any{
		"size": map[string]any{
			"height": ann.Size[0],
			"width":  ann.Size[1],
		},
		"tags": wireTags(ann.Tags),
	}

	if kind == models.MediaVideo {
		doc["framesCount"] = ann.FrameCount
		frames := make([]map[string]any, 0, len(ann.Frames))
		for _, frame := range ann.Frames {
			figures := make([]map[string]any, 0, len(frame.Figures))
			for _, figure := range frame.Figures {
				figures = append(figures, wireFigure(figure))
			}
			frames = append(frames, map[string]any{
				"index":   frame.Index,
				"figures": figures,
			})
		}
		doc["frames"] = frames
		return doc
	}

	objects := make([]map[string]any, 0, len(ann.Figures))
	for _, figure := range ann.Figures {
		objects = append(objects, wireFigure(figure))
	}
	doc["objects"] = objects
	return doc
}

func wireFigure(figure Figure) map[string]any {
	return map[string]any{
		"classTitle":   figure.Class,
		"geometryType": figure.Shape.GeometryName(),
		"geometry":     figure.Shape,
		"tags":         wireTags(figure.Tags),
	}
}

func wireTags(tags []Tag) []map[string]any {
	out := make([]map[string]any, 0, len(tags))
	for _, tag := range tags {
		entry := map[string]any{"name": tag.Meta.Name}
		if tag.Value != "" {
			entry["value"] = tag.Value
		}
		if tag.FrameRange != nil {
			entry["frameRange"] = []int{tag.FrameRange[0], tag.FrameRange[1]}
		}
		out = append(out, entry)
	}
	return out
}
