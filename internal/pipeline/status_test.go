package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelops/annoport/internal/models"
)

func TestCollectorLifecycle(t *testing.T) {
	c := NewCollector()
	c.Register(models.SourceItem{ID: "d:a", Name: "a.jpg", Dataset: "d", Kind: models.MediaImage})
	c.Register(models.SourceItem{ID: "d:b", Name: "b.jpg", Dataset: "d", Kind: models.MediaImage})

	c.SetStage("d:a", models.StageParsed)
	c.RecordMapped("d:a", 3, map[models.ReasonCode]int{models.ReasonUnsupportedCuboid: 2})
	c.SetStage("d:a", models.StageUploaded)
	c.Fail("d:b", models.ReasonParseError, "unparsable task document")

	snapshot := c.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "a.jpg", snapshot[0].Name)
	assert.Equal(t, models.StageUploaded, snapshot[0].Stage)
	assert.Equal(t, 3, snapshot[0].Labels)
	assert.Equal(t, 2, snapshot[0].Skips[models.ReasonUnsupportedCuboid])

	assert.Equal(t, models.StageFailed, snapshot[1].Stage)
	assert.Equal(t, models.ReasonParseError, snapshot[1].Reason)
	assert.Equal(t, "unparsable task document", snapshot[1].Detail)

	counts := c.Counts()
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Succeeded)
	assert.Equal(t, 1, counts.Failed)
	assert.Equal(t, 3, counts.Labels)
	assert.Equal(t, 1, counts.FailureReason[models.ReasonParseError])
	assert.Equal(t, 2, counts.SkipReason[models.ReasonUnsupportedCuboid])
}

func TestCollectorSnapshotKeepsRegistrationOrder(t *testing.T) {
	c := NewCollector()
	ids := []string{"z", "a", "m"}
	for _, id := range ids {
		c.Register(models.SourceItem{ID: id, Name: id})
	}

	snapshot := c.Snapshot()
	require.Len(t, snapshot, 3)
	for i, id := range ids {
		assert.Equal(t, id, snapshot[i].ItemID)
	}
}

func TestCollectorSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.Register(models.SourceItem{ID: "x", Name: "x.jpg"})
	c.RecordMapped("x", 1, map[models.ReasonCode]int{models.ReasonUnknownGeometry: 1})

	snapshot := c.Snapshot()
	snapshot[0].Labels = 99
	snapshot[0].Skips[models.ReasonUnknownGeometry] = 99

	fresh := c.Snapshot()
	assert.Equal(t, 1, fresh[0].Labels)
	assert.Equal(t, 1, fresh[0].Skips[models.ReasonUnknownGeometry])
}

func TestCollectorOnUpdate(t *testing.T) {
	c := NewCollector()

	var updates []models.ItemStage
	c.OnUpdate(func(status models.ItemStatus) {
		updates = append(updates, status.Stage)
	})

	c.Register(models.SourceItem{ID: "x", Name: "x.jpg"})
	c.SetStage("x", models.StageParsed)
	c.SetStage("x", models.StageUploaded)

	assert.Equal(t, []models.ItemStage{
		models.StagePending, models.StageParsed, models.StageUploaded,
	}, updates)
}
