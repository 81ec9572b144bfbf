package sly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/models"
)

// Config carries the destination connection settings. The token comes from
// the credential provider at startup and is never persisted.
type Config struct {
	Server      string
	Token       string
	WorkspaceID int
}

// Client uploads assembled projects to the destination platform. It
// satisfies the pipeline's Uploader interface. Retries around transient
// failures belong here, not in the pipeline; the current policy is a single
// attempt with the platform's rename-on-conflict flag set.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds an uploader from connection settings.
func NewClient(logger *slog.Logger, config Config) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// Ping verifies the token against the instance info endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var info struct {
		Version string `json:"version"`
	}
	if err := c.postJSON(ctx, "instance.info", map[string]any{}, &info); err != nil {
		return errors.Wrap(err, "destination connection check failed")
	}
	c.logger.Info("connected to destination platform", "version", info.Version)
	return nil
}

// Upload creates the project, extends its meta with every observed class and
// tag, and pushes datasets, items and annotations. On success the project's
// Ref is set to its browser URL.
func (c *Client) Upload(ctx context.Context, project *Project) error {
	projectID, err := c.createProject(ctx, project)
	if err != nil {
		return err
	}

	if err := c.updateMeta(ctx, projectID, project.Meta); err != nil {
		return err
	}

	for _, dataset := range project.Datasets {
		datasetID, err := c.createDataset(ctx, projectID, dataset.Name)
		if err != nil {
			return err
		}
		for _, item := range dataset.Items {
			if err := c.uploadItem(ctx, datasetID, item); err != nil {
				return errors.Wrapf(err, "failed to upload item %q", item.Name)
			}
		}
	}

	project.Ref = fmt.Sprintf("%s/projects/%d", strings.TrimSuffix(c.config.Server, "/"), projectID)
	return nil
}

func (c *Client) createProject(ctx context.Context, project *Project) (int, error) {
	projectType := "images"
	if project.Kind == models.MediaVideo {
		projectType = "videos"
	}

	var created struct {
		ID int `json:"id"`
	}
	payload := map[string]any{
		"workspaceId":          c.config.WorkspaceID,
		"name":                 project.Name,
		"type":                 projectType,
		"changeNameIfConflict": true,
	}
	if err := c.postJSON(ctx, "projects.add", payload, &created); err != nil {
		return 0, errors.Wrapf(err, "failed to create project %q", project.Name)
	}

	c.logger.Debug("created destination project", "name", project.Name, "id", created.ID)
	return created.ID, nil
}

func (c *Client) updateMeta(ctx context.Context, projectID int, meta ProjectMeta) error {
	classes := make([]map[string]any, 0, len(meta.Classes))
	for _, class := range meta.Classes {
		classes = append(classes, map[string]any{
			"title": class.Name,
			"shape": class.Geometry,
		})
	}
	tagMetas := make([]map[string]any, 0, len(meta.TagMetas))
	for _, tagMeta := range meta.TagMetas {
		tagMetas = append(tagMetas, map[string]any{
			"name":       tagMeta.Name,
			"value_type": tagMeta.ValueType,
		})
	}

	payload := map[string]any{
		"id": projectID,
		"meta": map[string]any{
			"classes": classes,
			"tags":    tagMetas,
		},
	}
	if err := c.postJSON(ctx, "projects.update-meta", payload, nil); err != nil {
		return errors.Wrapf(err, "failed to update meta of project %d", projectID)
	}
	return nil
}

func (c *Client) createDataset(ctx context.Context, projectID int, name string) (int, error) {
	var created struct {
		ID int `json:"id"`
	}
	payload := map[string]any{
		"projectId":            projectID,
		"name":                 name,
		"changeNameIfConflict": true,
	}
	if err := c.postJSON(ctx, "datasets.add", payload, &created); err != nil {
		return 0, errors.Wrapf(err, "failed to create dataset %q", name)
	}
	return created.ID, nil
}

// uploadItem sends the media file and then attaches the item's annotation.
func (c *Client) uploadItem(ctx context.Context, datasetID int, item Item) error {
	endpoint := "images.upload"
	if item.Kind == models.MediaVideo {
		endpoint = "videos.upload"
	}

	itemID, err := c.uploadMedia(ctx, endpoint, datasetID, item)
	if err != nil {
		return err
	}

	annEndpoint := "annotations.add"
	if item.Kind == models.MediaVideo {
		annEndpoint = "videos.annotations.append"
	}
	payload := map[string]any{
		"entityId":   itemID,
		"annotation": wireAnnotation(item.Annotation, item.Kind),
	}
	if err := c.postJSON(ctx, annEndpoint, payload, nil); err != nil {
		return errors.Wrap(err, "failed to attach annotation")
	}
	return nil
}

func (c *Client) uploadMedia(ctx context.Context, endpoint string, datasetID int, item Item) (int, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("datasetId", fmt.Sprint(datasetID)); err != nil {
		return 0, errors.Wrap(err, "failed to build upload request")
	}
	if err := writer.WriteField("name", item.Name); err != nil {
		return 0, errors.Wrap(err, "failed to build upload request")
	}

	if item.MediaPath != "" {
		if err := attachFile(writer, item.MediaPath); err != nil {
			return 0, err
		}
	}
	if err := writer.Close(); err != nil {
		return 0, errors.Wrap(err, "failed to finish upload request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(endpoint), &body)
	if err != nil {
		return 0, errors.Wrap(err, "failed to build upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "media upload failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Newf("media upload returned status %s", resp.Status)
	}

	var uploaded struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return 0, errors.Wrap(err, "failed to decode upload response")
	}
	return uploaded.ID, nil
}

func attachFile(writer *multipart.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open media file %q", path)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return errors.Wrap(err, "failed to build upload request")
	}
	if _, err := io.Copy(part, file); err != nil {
		return errors.Wrapf(err, "failed to stream media file %q", path)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s payload", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "failed to build %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s request failed", method)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("%s returned status %s: %s", method, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "failed to decode %s response", method)
		}
	}
	return nil
}

func (c *Client) endpoint(method string) string {
	return strings.TrimSuffix(c.config.Server, "/") + "/public/api/v3/" + method
}
