package sly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelops/annoport/internal/models"
)

func TestAddClassIsIdempotent(t *testing.T) {
	var meta ProjectMeta

	first := meta.AddClass(ObjClass{Name: "car", Geometry: GeometryRectangle})
	second := meta.AddClass(ObjClass{Name: "car", Geometry: GeometryRectangle})

	assert.Equal(t, first, second)
	assert.Len(t, meta.Classes, 1)
}

func TestAddClassSameNameDifferentGeometry(t *testing.T) {
	var meta ProjectMeta

	meta.AddClass(ObjClass{Name: "car", Geometry: GeometryRectangle})
	meta.AddClass(ObjClass{Name: "car", Geometry: GeometryPolygon})

	require.Len(t, meta.Classes, 2)
	assert.Equal(t, GeometryRectangle, meta.Classes[0].Geometry)
	assert.Equal(t, GeometryPolygon, meta.Classes[1].Geometry)
}

func TestAddTagMetaIsIdempotentByName(t *testing.T) {
	var meta ProjectMeta

	meta.AddTagMeta(TagMeta{Name: "color", ValueType: TagValueAnyString})
	meta.AddTagMeta(TagMeta{Name: "color", ValueType: TagValueAnyString})
	meta.AddTagMeta(TagMeta{Name: "reviewed", ValueType: TagValueNone})

	require.Len(t, meta.TagMetas, 2)
	assert.Equal(t, "color", meta.TagMetas[0].Name)
	assert.Equal(t, "reviewed", meta.TagMetas[1].Name)
}

func TestShapeGeometryNames(t *testing.T) {
	assert.Equal(t, GeometryRectangle, Rectangle{}.GeometryName())
	assert.Equal(t, GeometryPolygon, Polygon{}.GeometryName())
	assert.Equal(t, GeometryPolyline, Polyline{}.GeometryName())
	assert.Equal(t, GeometryPoint, Point{}.GeometryName())
	assert.Equal(t, GeometryGraph, Graph{}.GeometryName())
	assert.Equal(t, GeometryBitmap, Bitmap{}.GeometryName())
}

func TestWireAnnotationImage(t *testing.T) {
	ann := Annotation{
		Size: [2]int{480, 640},
		Figures: []Figure{{
			Class: "car",
			Shape: Rectangle{Top: 1, Left: 2, Bottom: 3, Right: 4},
			Tags: []Tag{{
				Meta:  TagMeta{Name: "color", ValueType: TagValueAnyString},
				Value: "red",
			}},
		}},
		Tags: []Tag{{Meta: TagMeta{Name: "reviewed", ValueType: TagValueNone}}},
	}

	doc := wireAnnotation(ann, models.MediaImage)

	size, ok := doc["size"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 480, size["height"])
	assert.Equal(t, 640, size["width"])

	objects, ok := doc["objects"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, objects, 1)
	assert.Equal(t, "car", objects[0]["classTitle"])
	assert.Equal(t, GeometryRectangle, objects[0]["geometryType"])

	_, hasFrames := doc["frames"]
	assert.False(t, hasFrames)
}

func TestWireAnnotationVideo(t *testing.T) {
	frameRange := [2]int{2, 2}
	ann := Annotation{
		Size:       [2]int{240, 320},
		FrameCount: 5,
		Frames: []Frame{
			{Index: 0, Figures: []Figure{{Class: "car", Shape: Rectangle{}}}},
			{Index: 2, Figures: []Figure{{Class: "car", Shape: Rectangle{}, Frame: 2}}},
		},
		Tags: []Tag{{
			Meta:       TagMeta{Name: "night", ValueType: TagValueNone},
			FrameRange: &frameRange,
		}},
	}

	doc := wireAnnotation(ann, models.MediaVideo)

	assert.Equal(t, 5, doc["framesCount"])
	frames, ok := doc["frames"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, frames, 2)
	assert.Equal(t, 0, frames[0]["index"])
	assert.Equal(t, 2, frames[1]["index"])

	tags, ok := doc["tags"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tags, 1)
	assert.Equal(t, []int{2, 2}, tags[0]["frameRange"])

	_, hasObjects := doc["objects"]
	assert.False(t, hasObjects)
}
