package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"

	"github.com/labelops/annoport/internal/describe"
	"github.com/labelops/annoport/internal/discovery"
	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/pipeline"
	"github.com/labelops/annoport/internal/report"
	"github.com/labelops/annoport/internal/sly"
)

// runConversion executes the full pipeline over root and persists the run
// report. Item failures are reported, not fatal; only a run that produced
// nothing returns an error.
func runConversion(ctx context.Context, root string) error {
	collector := pipeline.NewCollector()
	collector.OnUpdate(func(status models.ItemStatus) {
		switch status.Stage {
		case models.StageUploaded:
			pterm.Success.Printfln("%s (%d labels)", status.Name, status.Labels)
		case models.StageFailed:
			pterm.Error.Printfln("%s: %s %s", status.Name, status.Reason, status.Detail)
		}
	})

	walker := discovery.NewWalker(logger, root)
	defer walker.Cleanup()

	uploader := sly.NewClient(logger, sly.Config{
		Server:      cfg.Destination.Server,
		Token:       cfg.Destination.Token,
		WorkspaceID: cfg.Destination.WorkspaceID,
	})

	processor := pipeline.NewProcessor(logger, collector, cfg.Workers)
	result, err := processor.Run(ctx, walker, uploader)
	if err != nil {
		return err
	}

	printSummary(result)

	sink := report.NewFileSink(cfg.ReportDir)
	if err := sink.SaveRun(ctx, result); err != nil {
		logger.Warn("failed to write report file", "err", err)
	}

	if cfg.Journal.Enabled {
		if err := journalRun(ctx, result); err != nil {
			logger.Warn("failed to journal run", "err", err)
		}
	}
	return nil
}

func printSummary(result *pipeline.Report) {
	counts := result.Counts
	rows := pterm.TableData{{"Dataset", "Kind", "Destination"}}
	for _, link := range result.Links {
		rows = append(rows, []string{link.Dataset, string(link.Kind), link.DestinationRef})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()

	pterm.Info.Printfln("run %s: %d/%d items converted, %d labels, %d failed",
		result.RunID, counts.Succeeded, counts.Total, counts.Labels, counts.Failed)
	for reason, n := range counts.SkipReason {
		pterm.Warning.Printfln("skipped labels: %s ×%d", reason, n)
	}
}

// journalRun stores the run in Postgres and, when the describer is enabled,
// attaches a description and search embedding to each uploaded image.
func journalRun(ctx context.Context, result *pipeline.Report) error {
	if err := report.InitSchema(ctx, journalConfig()); err != nil {
		return err
	}
	store, err := report.NewPostgresStore(ctx, journalConfig())
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRun(ctx, result); err != nil {
		return err
	}

	if cfg.Describe.Enabled {
		if err := describeItems(ctx, store, result); err != nil {
			logger.Warn("item description pass failed", "err", err)
		}
	}
	return nil
}

func describeItems(ctx context.Context, store *report.PostgresStore, result *pipeline.Report) error {
	describeCfg := describe.Config{
		BaseURL:    cfg.Describe.BaseURL,
		Port:       cfg.Describe.Port,
		Model:      cfg.Describe.Model,
		EmbedModel: cfg.Describe.EmbedModel,
	}
	describer, err := describe.NewDescriber(ctx, logger, describeCfg)
	if err != nil {
		return err
	}

	embeds := describe.NewEmbedService(describe.NewEmbedder(describeCfg), cfg.Workers)
	defer embeds.Close()

	for _, project := range result.Projects {
		if project.Kind != models.MediaImage {
			continue
		}
		for _, dataset := range project.Datasets {
			for _, item := range dataset.Items {
				if err := ctx.Err(); err != nil {
					return err
				}
				content, err := describer.Describe(ctx, item.MediaPath)
				if err != nil {
					logger.Warn("failed to describe item", "item", item.Name, "err", err)
					continue
				}

				embedded := <-embeds.Get(content)
				if embedded.Error != nil {
					logger.Warn("failed to embed description", "item", item.Name, "err", embedded.Error)
				}
				if err := store.AttachDescription(ctx, result.RunID, item.SourceID, content, embedded.Embedding); err != nil {
					logger.Warn("failed to store description", "item", item.Name, "err", err)
				}
			}
		}
	}
	return nil
}

func journalConfig() report.PostgresConfig {
	return report.PostgresConfig{
		Host:     cfg.Journal.Host,
		Port:     cfg.Journal.Port,
		User:     cfg.Journal.User,
		Password: cfg.Journal.Password,
		DBName:   cfg.Journal.DBName,
	}
}

// requireDestination fails fast before a run when the destination is not
// configured.
func requireDestination() error {
	if cfg.Destination.Server == "" || cfg.Destination.Token == "" {
		return errors.New("destination server and token must be configured")
	}
	return nil
}
