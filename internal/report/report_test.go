package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/pipeline"
)

func TestFileSinkWritesRunReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	sink := NewFileSink(dir)

	run := &pipeline.Report{
		RunID: "run-123",
		Counts: pipeline.Counts{
			Total:     2,
			Succeeded: 1,
			Failed:    1,
			Labels:    7,
			FailureReason: map[models.ReasonCode]int{
				models.ReasonParseError: 1,
			},
			SkipReason: map[models.ReasonCode]int{
				models.ReasonUnsupportedCuboid: 3,
			},
		},
		Statuses: []models.ItemStatus{
			{
				ItemID: "d:a", Name: "a.jpg", Dataset: "d",
				Kind: models.MediaImage, Stage: models.StageUploaded, Labels: 7,
				Skips: map[models.ReasonCode]int{models.ReasonUnsupportedCuboid: 3},
			},
			{
				ItemID: "d:b", Name: "b.jpg", Dataset: "d",
				Kind: models.MediaImage, Stage: models.StageFailed,
				Reason: models.ReasonParseError, Detail: "unparsable item document",
			},
		},
		Links: []pipeline.DatasetLink{{
			Dataset:        "d",
			Kind:           models.MediaImage,
			SourceRef:      "/exports/d",
			DestinationRef: "dest://projects/d",
		}},
	}

	require.NoError(t, sink.SaveRun(context.Background(), run))

	data, err := os.ReadFile(filepath.Join(dir, "run-123.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "run-123", decoded["run_id"])
	assert.Equal(t, float64(2), decoded["total"])
	assert.Equal(t, float64(1), decoded["succeeded"])
	assert.Equal(t, float64(7), decoded["labels"])

	skips, ok := decoded["skip_reasons"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), skips["UNSUPPORTED_GEOMETRY_CUBOID"])

	items, ok := decoded["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)

	second, ok := items[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PARSE_ERROR", second["reason"])
	assert.Equal(t, "failed", second["stage"])
}
