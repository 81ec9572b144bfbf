package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/labelops/annoport/internal/cvatapi"
	"github.com/labelops/annoport/internal/discovery"
)

// The platform builds exports lazily, so the first download attempts can
// come back empty while the export job runs.
const (
	downloadAttempts = 10
	downloadBackoff  = 3 * time.Second
)

var migrateProjectID int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Pull tasks from the source platform and convert them",
	Long: `migrate downloads task dataset exports straight from the source platform
and converts them without a manual export step. With --project only that
project's tasks are migrated; otherwise every visible project is.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireDestination(); err != nil {
			return err
		}
		if cfg.Source.Address == "" {
			return errors.New("source platform address must be configured")
		}
		return runMigration(cmd.Context())
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateProjectID, "project", 0, "migrate only this source project ID")
	rootCmd.AddCommand(migrateCmd)
}

func runMigration(ctx context.Context) error {
	client := cvatapi.NewClient(logger, cvatapi.Config{
		Address:  cfg.Source.Address,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
	})
	if _, err := client.CheckConnection(ctx); err != nil {
		return err
	}

	projects, err := client.Projects(ctx)
	if err != nil {
		return err
	}
	if migrateProjectID != 0 {
		projects = filterProject(projects, migrateProjectID)
		if len(projects) == 0 {
			return errors.Newf("project %d not found on the source platform", migrateProjectID)
		}
	}

	staging, err := os.MkdirTemp("", "annoport-migrate-*")
	if err != nil {
		return errors.Wrap(err, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)

	staged := 0
	for _, project := range projects {
		tasks, err := client.Tasks(ctx, project.ID)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := stageTask(ctx, client, task, staging); err != nil {
				pterm.Error.Printfln("task %q: %v", task.Name, err)
				continue
			}
			staged++
		}
	}
	if staged == 0 {
		return errors.New("no tasks could be downloaded from the source platform")
	}

	pterm.Info.Printfln("downloaded %d tasks, starting conversion", staged)
	return runConversion(ctx, staging)
}

// stageTask downloads one task's export and extracts it as a dataset
// directory named after the task.
func stageTask(ctx context.Context, client *cvatapi.Client, task cvatapi.Task, staging string) error {
	data, err := downloadWithRetry(ctx, client, task.ID)
	if err != nil {
		return err
	}

	archive := filepath.Join(staging, fmt.Sprintf("task-%d.zip", task.ID))
	if err := os.WriteFile(archive, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write downloaded archive")
	}
	defer os.Remove(archive)

	target := filepath.Join(staging, datasetDirName(task.Name, task.ID))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %q", target)
	}
	return discovery.Unpack(archive, target)
}

func downloadWithRetry(ctx context.Context, client *cvatapi.Client, taskID int) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		data, err := client.DownloadDataset(ctx, taskID)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !errors.Is(err, cvatapi.ErrEmptyDownload) {
			return nil, err
		}

		logger.Debug("export not ready yet, retrying",
			"task", taskID, "attempt", attempt, "of", downloadAttempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(downloadBackoff):
		}
	}
	return nil, errors.Wrapf(lastErr, "task %d export stayed empty after %d attempts", taskID, downloadAttempts)
}

// datasetDirName makes a filesystem-safe directory name from the task name,
// falling back to the task ID for degenerate names.
func datasetDirName(name string, id int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return fmt.Sprintf("task-%d", id)
	}
	return cleaned
}

func filterProject(projects []cvatapi.Project, id int) []cvatapi.Project {
	for _, project := range projects {
		if project.ID == id {
			return []cvatapi.Project{project}
		}
	}
	return nil
}
