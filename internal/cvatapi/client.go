// Package cvatapi is a thin REST client for the source annotation platform:
// listing projects and tasks and downloading task dataset exports. The
// migration command drives it; the conversion core never talks to it.
package cvatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ExportFormat is the dataset export format requested from the platform.
// The frame-addressed image export works for both image and video tasks.
const ExportFormat = "CVAT for images 1.1"

// ErrEmptyDownload marks a dataset download that returned zero bytes. The
// platform produces these transiently while an export is still being built;
// callers decide whether to retry.
var ErrEmptyDownload = errors.New("dataset download returned an empty archive")

// Config carries the connection settings. Credentials come from the
// credential provider at startup and are never persisted.
type Config struct {
	Address  string
	Username string
	Password string
}

// Project is one source platform project.
type Project struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	OwnerUsername string `json:"-"`
	LabelsCount   int    `json:"-"`
	URL           string `json:"url"`
}

// Task is one source platform task inside a project.
type Task struct {
	ID        int    `json:"id"`
	ProjectID int    `json:"project_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	DataType  string `json:"data_original_chunk_type"` // "imageset" or "video"
	URL       string `json:"url"`
}

// Client talks to the source platform REST API.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client from connection settings.
func NewClient(logger *slog.Logger, config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// CheckConnection verifies the credentials against the server's about
// endpoint and returns the reported server version.
func (c *Client) CheckConnection(ctx context.Context) (string, error) {
	var about struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/server/about", nil, &about); err != nil {
		return "", errors.Wrap(err, "connection check failed")
	}
	c.logger.Info("connected to source platform", "version", about.Version)
	return about.Version, nil
}

// Projects lists all projects visible to the credentials.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var page struct {
		Count   int `json:"count"`
		Results []struct {
			Project
			Owner *struct {
				Username string `json:"username"`
			} `json:"owner"`
			Labels *struct {
				Count int `json:"count"`
			} `json:"labels"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/projects", nil, &page); err != nil {
		return nil, errors.Wrap(err, "failed to list projects")
	}

	projects := make([]Project, 0, len(page.Results))
	for _, result := range page.Results {
		project := result.Project
		if result.Owner != nil {
			project.OwnerUsername = result.Owner.Username
		}
		if result.Labels != nil {
			project.LabelsCount = result.Labels.Count
		}
		project.URL = browserURL(project.URL)
		projects = append(projects, project)
	}
	return projects, nil
}

// Tasks lists the tasks of one project.
func (c *Client) Tasks(ctx context.Context, projectID int) ([]Task, error) {
	query := url.Values{"project_id": {fmt.Sprint(projectID)}}
	var page struct {
		Results []Task `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/tasks", query, &page); err != nil {
		return nil, errors.Wrapf(err, "failed to list tasks of project %d", projectID)
	}

	for i := range page.Results {
		page.Results[i].URL = browserURL(page.Results[i].URL)
	}
	return page.Results, nil
}

// DownloadDataset fetches one task's dataset export as a zip archive.
// Returns ErrEmptyDownload when the platform responds with an empty body.
func (c *Client) DownloadDataset(ctx context.Context, taskID int) ([]byte, error) {
	query := url.Values{
		"format": {ExportFormat},
		"action": {"download"},
	}

	resp, err := c.get(ctx, fmt.Sprintf("/api/tasks/%d/dataset", taskID), query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download dataset of task %d", taskID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("dataset download of task %d returned status %s", taskID, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset of task %d", taskID)
	}
	if len(data) == 0 {
		return nil, ErrEmptyDownload
	}
	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("%s returned status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode response of %s", path)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	endpoint := strings.TrimSuffix(c.config.Address, "/") + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request for %s", path)
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", path)
	}
	return resp, nil
}

// browserURL strips the API prefix so the reference opens in a browser.
func browserURL(apiURL string) string {
	return strings.Replace(apiURL, "/api/", "/", 1)
}
