// Package pipeline drives the conversion end to end: enumerate source items,
// parse and map them on a worker pool, assemble destination projects, and
// hand them to the uploader. Item failures stay per-item; only conditions
// that make the whole run meaningless surface as errors.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/labelops/annoport/internal/assembler"
	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

const defaultWorkers = 4

// Discovery yields the ordered, finite set of source items for one run.
type Discovery interface {
	Items(ctx context.Context) ([]models.SourceItem, error)
}

// Uploader pushes one assembled project to the destination platform. It owns
// retries and timeouts; the pipeline treats any returned error as
// UPLOAD_ERROR for the project's items. Implementations set project.Ref on
// success.
type Uploader interface {
	Upload(ctx context.Context, project *sly.Project) error
}

// DatasetLink pairs a converted logical dataset's source and destination
// references for the final report.
type DatasetLink struct {
	Dataset        string
	Kind           models.MediaKind
	SourceRef      string
	DestinationRef string
}

// Report is the run summary exposed to reporting collaborators.
type Report struct {
	RunID    string
	Counts   Counts
	Statuses []models.ItemStatus
	Links    []DatasetLink
	Projects []*sly.Project
}

// Processor is the conversion orchestrator.
type Processor struct {
	logger    *slog.Logger
	collector *Collector
	workers   int
}

// NewProcessor wires a processor with its status collector. workers <= 0
// picks the default pool size.
func NewProcessor(logger *slog.Logger, collector *Collector, workers int) *Processor {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Processor{logger: logger, collector: collector, workers: workers}
}

// Run executes the full pipeline. Items are converted concurrently but the
// output ordering is the discovery enumeration order; project ordering
// follows the first appearance of each (dataset, media kind) group.
// Cancellation is cooperative: once ctx is done no new item is scheduled and
// in-flight items finish to their own terminal state.
func (p *Processor) Run(ctx context.Context, discovery Discovery, uploader Uploader) (*Report, error) {
	items, err := discovery.Items(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discovery failed")
	}
	if len(items) == 0 {
		return nil, errors.New("discovery returned no items, nothing to convert")
	}

	runID := uuid.NewString()
	p.logger.Info("starting conversion run", "run_id", runID, "items", len(items))

	for _, item := range items {
		p.collector.Register(item)
	}

	results := p.convertAll(ctx, items)

	// Rebuild enumeration order from the indexed results; failed or
	// unscheduled items simply drop out of assembly.
	var entries []assembler.Entry
	scheduled := make(map[string]bool)
	for i, item := range items {
		result := results[i]
		if result == nil {
			continue
		}
		scheduled[item.ID] = true
		entries = append(entries, assembler.Entry{
			Dataset:   item.Dataset,
			SourceRef: item.SourceRef,
			Item:      result.item,
		})
	}

	projects := assembler.Assemble(entries)
	p.logger.Info("assembled destination projects", "run_id", runID, "projects", len(projects))

	p.uploadAll(ctx, uploader, projects, scheduled)

	report := &Report{
		RunID:    runID,
		Counts:   p.collector.Counts(),
		Statuses: p.collector.Snapshot(),
		Projects: projects,
	}
	for _, project := range projects {
		for _, dataset := range project.Datasets {
			report.Links = append(report.Links, DatasetLink{
				Dataset:        dataset.Name,
				Kind:           project.Kind,
				SourceRef:      project.SourceRef,
				DestinationRef: project.Ref,
			})
		}
	}

	p.logger.Info("conversion run finished",
		"run_id", runID,
		"succeeded", report.Counts.Succeeded,
		"failed", report.Counts.Failed,
	)
	return report, nil
}

// convertAll fans the items out to the worker pool. The result slice is
// indexed by the item's enumeration position; a nil slot means the item
// failed or was never scheduled.
func (p *Processor) convertAll(ctx context.Context, items []models.SourceItem) []*converted {
	results := make([]*converted, len(items))
	work := make(chan int, len(items))

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				item := items[idx]
				result, err := convertItem(item)
				if err != nil {
					p.logger.Warn("item failed to parse", "item", item.Name, "err", err)
					p.collector.Fail(item.ID, models.ReasonParseError, err.Error())
					continue
				}
				p.collector.SetStage(item.ID, models.StageParsed)
				p.collector.RecordMapped(item.ID, result.labels, result.skips)
				results[idx] = &result
			}
		}()
	}

	// Dispatch in enumeration order, stopping at cancellation. In-flight
	// items run to completion either way.
dispatch:
	for idx := range items {
		select {
		case <-ctx.Done():
			p.logger.Warn("cancellation requested, not scheduling remaining items",
				"remaining", len(items)-idx)
			break dispatch
		case work <- idx:
		}
	}
	close(work)
	wg.Wait()

	return results
}

// uploadAll pushes each project and settles the terminal stage of its items.
func (p *Processor) uploadAll(ctx context.Context, uploader Uploader, projects []*sly.Project, scheduled map[string]bool) {
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("cancellation requested, skipping remaining uploads", "project", project.Name)
			return
		}

		err := uploader.Upload(ctx, project)
		for _, dataset := range project.Datasets {
			for _, item := range dataset.Items {
				if !scheduled[item.SourceID] {
					continue
				}
				if err != nil {
					p.collector.Fail(item.SourceID, models.ReasonUploadError, err.Error())
				} else {
					p.collector.SetStage(item.SourceID, models.StageUploaded)
				}
			}
		}
		if err != nil {
			p.logger.Warn("project upload failed", "project", project.Name, "err", err)
		} else {
			p.logger.Info("project uploaded", "project", project.Name, "ref", project.Ref)
		}
	}
}
