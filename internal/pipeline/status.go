package pipeline

import (
	"sync"

	"github.com/labelops/annoport/internal/models"
)

// Counts is the aggregate view of a run: totals, terminal outcomes, and the
// per-reason histograms for failures and label skips.
type Counts struct {
	Total         int
	Succeeded     int
	Failed        int
	Labels        int
	FailureReason map[models.ReasonCode]int
	SkipReason    map[models.ReasonCode]int
}

// Collector accumulates per-item statuses for the pipeline. Workers update
// it concurrently; all mutation goes through one mutex. Reporting
// collaborators read it through Snapshot and Counts, never directly.
type Collector struct {
	mu       sync.Mutex
	order    []string
	statuses map[string]*models.ItemStatus
	onUpdate func(models.ItemStatus)
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{statuses: make(map[string]*models.ItemStatus)}
}

// OnUpdate registers a callback invoked after every status change, outside
// the lock. Used by the CLI for progress display; may be nil.
func (c *Collector) OnUpdate(fn func(models.ItemStatus)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Register adds an item in the pending stage. Items keep registration order
// in snapshots.
func (c *Collector) Register(item models.SourceItem) {
	c.update(item.ID, func(status *models.ItemStatus) {
		status.Name = item.Name
		status.Dataset = item.Dataset
		status.Kind = item.Kind
		status.Stage = models.StagePending
	})
}

// SetStage moves an item to a new lifecycle stage.
func (c *Collector) SetStage(id string, stage models.ItemStage) {
	c.update(id, func(status *models.ItemStatus) {
		status.Stage = stage
	})
}

// RecordMapped stores the mapping outcome of an item: how many labels were
// carried over and how many were skipped per reason.
func (c *Collector) RecordMapped(id string, labels int, skips map[models.ReasonCode]int) {
	c.update(id, func(status *models.ItemStatus) {
		status.Stage = models.StageMapped
		status.Labels = labels
		if len(skips) > 0 {
			status.Skips = make(map[models.ReasonCode]int, len(skips))
			for reason, count := range skips {
				status.Skips[reason] = count
			}
		}
	})
}

// Fail moves an item to the terminal failed stage with its reason.
func (c *Collector) Fail(id string, reason models.ReasonCode, detail string) {
	c.update(id, func(status *models.ItemStatus) {
		status.Stage = models.StageFailed
		status.Reason = reason
		status.Detail = detail
	})
}

func (c *Collector) update(id string, apply func(*models.ItemStatus)) {
	c.mu.Lock()
	status, ok := c.statuses[id]
	if !ok {
		status = &models.ItemStatus{ItemID: id}
		c.statuses[id] = status
		c.order = append(c.order, id)
	}
	apply(status)
	updated := cloneStatus(*status)
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		fn(updated)
	}
}

// Snapshot returns a copy of every item status in registration order.
func (c *Collector) Snapshot() []models.ItemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]models.ItemStatus, 0, len(c.order))
	for _, id := range c.order {
		snapshot = append(snapshot, cloneStatus(*c.statuses[id]))
	}
	return snapshot
}

// Counts aggregates the current statuses.
func (c *Collector) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := Counts{
		Total:         len(c.order),
		FailureReason: make(map[models.ReasonCode]int),
		SkipReason:    make(map[models.ReasonCode]int),
	}
	for _, status := range c.statuses {
		switch status.Stage {
		case models.StageUploaded:
			counts.Succeeded++
		case models.StageFailed:
			counts.Failed++
			counts.FailureReason[status.Reason]++
		}
		counts.Labels += status.Labels
		for reason, n := range status.Skips {
			counts.SkipReason[reason] += n
		}
	}
	return counts
}

func cloneStatus(status models.ItemStatus) models.ItemStatus {
	if status.Skips != nil {
		skips := make(map[models.ReasonCode]int, len(status.Skips))
		for reason, count := range status.Skips {
			skips[reason] = count
		}
		status.Skips = skips
	}
	return status
}
