package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

func TestClassForIsGeometryTyped(t *testing.T) {
	rect := ClassFor(sly.Figure{Class: "car", Shape: sly.Rectangle{}})
	poly := ClassFor(sly.Figure{Class: "car", Shape: sly.Polygon{}})

	assert.Equal(t, "car", rect.Name)
	assert.Equal(t, "car", poly.Name)
	assert.Equal(t, sly.GeometryRectangle, rect.Geometry)
	assert.Equal(t, sly.GeometryPolygon, poly.Geometry)
	assert.NotEqual(t, rect, poly)
}

func TestMapTagItemLevel(t *testing.T) {
	tag := MapTag(models.Tag{Name: "reviewed"})

	assert.Equal(t, "reviewed", tag.Meta.Name)
	assert.Equal(t, sly.TagValueNone, tag.Meta.ValueType)
	assert.Empty(t, tag.Value)
	assert.Nil(t, tag.FrameRange)
}

func TestMapTagWithValue(t *testing.T) {
	tag := MapTag(models.Tag{Name: "weather", Value: "sunny"})

	assert.Equal(t, sly.TagValueAnyString, tag.Meta.ValueType)
	assert.Equal(t, "sunny", tag.Value)
}

func TestMapTagFrameLevel(t *testing.T) {
	frame := 7
	tag := MapTag(models.Tag{Name: "occlusion", Frame: &frame})

	require.NotNil(t, tag.FrameRange)
	assert.Equal(t, [2]int{7, 7}, *tag.FrameRange)
}
