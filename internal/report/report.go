// Package report persists conversion run outcomes: a JSON file next to the
// converted data and, when configured, a Postgres journal that also indexes
// item descriptions for similarity search.
package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/pipeline"
)

// Sink stores one finished run.
type Sink interface {
	SaveRun(ctx context.Context, report *pipeline.Report) error
}

// FileSink writes each run report as a JSON document under a directory.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink writing into dir, creating it on first save.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// SaveRun writes the report to <dir>/<run-id>.json.
func (s *FileSink) SaveRun(ctx context.Context, report *pipeline.Report) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create report directory %q", s.dir)
	}

	path := filepath.Join(s.dir, report.RunID+".json")
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create report file %q", path)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summarize(report)); err != nil {
		return errors.Wrapf(err, "failed to write report file %q", path)
	}
	return nil
}

// fileReport is the serialized shape of a run report. Projects are reduced
// to their links; item statuses are kept in full.
type fileReport struct {
	RunID    string                 `json:"run_id"`
	Total    int                    `json:"total"`
	Success  int                    `json:"succeeded"`
	Failed   int                    `json:"failed"`
	Labels   int                    `json:"labels"`
	Failures map[string]int         `json:"failure_reasons,omitempty"`
	Skips    map[string]int         `json:"skip_reasons,omitempty"`
	Links    []pipeline.DatasetLink `json:"links"`
	Statuses []itemLine             `json:"items"`
}

type itemLine struct {
	Item    string         `json:"item"`
	Dataset string         `json:"dataset"`
	Kind    string         `json:"kind"`
	Stage   string         `json:"stage"`
	Reason  string         `json:"reason,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Labels  int            `json:"labels"`
	Skips   map[string]int `json:"skips,omitempty"`
}

func summarize(report *pipeline.Report) fileReport {
	out := fileReport{
		RunID:   report.RunID,
		Total:   report.Counts.Total,
		Success: report.Counts.Succeeded,
		Failed:  report.Counts.Failed,
		Labels:  report.Counts.Labels,
		Links:   report.Links,
	}
	if len(report.Counts.FailureReason) > 0 {
		out.Failures = make(map[string]int, len(report.Counts.FailureReason))
		for reason, n := range report.Counts.FailureReason {
			out.Failures[string(reason)] = n
		}
	}
	if len(report.Counts.SkipReason) > 0 {
		out.Skips = make(map[string]int, len(report.Counts.SkipReason))
		for reason, n := range report.Counts.SkipReason {
			out.Skips[string(reason)] = n
		}
	}
	for _, status := range report.Statuses {
		line := itemLine{
			Item:    status.Name,
			Dataset: status.Dataset,
			Kind:    string(status.Kind),
			Stage:   string(status.Stage),
			Reason:  string(status.Reason),
			Detail:  status.Detail,
			Labels:  status.Labels,
		}
		if len(status.Skips) > 0 {
			line.Skips = make(map[string]int, len(status.Skips))
			for reason, n := range status.Skips {
				line.Skips[string(reason)] = n
			}
		}
		out.Statuses = append(out.Statuses, line)
	}
	return out
}
