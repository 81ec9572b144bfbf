// Package discovery walks an exported folder or archive and yields the
// ordered source items for one run. It recognizes two dataset layouts: XML
// task exports (annotations.xml plus an images directory) and JSON dataset
// exports (an images directory plus releases/<latest>/annotations).
package discovery

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/cvat"
	"github.com/labelops/annoport/internal/media"
	"github.com/labelops/annoport/internal/models"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true,
}

// Walker discovers source items under a root path. It satisfies the
// pipeline's Discovery interface.
type Walker struct {
	logger     *slog.Logger
	root       string
	synthesize func(framesDir, target string) error
	tempDirs   []string
}

// NewWalker returns a walker over root, which may be a folder or a .zip
// archive.
func NewWalker(logger *slog.Logger, root string) *Walker {
	return &Walker{logger: logger, root: root, synthesize: media.FramesToVideo}
}

// Cleanup removes the temp directories created while unpacking archives.
// Discovered items point into them, so call it only after the run finished.
func (w *Walker) Cleanup() {
	for _, dir := range w.tempDirs {
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Warn("failed to remove extraction directory", "dir", dir, "err", err)
		}
	}
	w.tempDirs = nil
}

// Items enumerates every source item under the root in a stable order:
// dataset directories sorted by name, items in document order within a task
// and sorted file order within a JSON dataset.
func (w *Walker) Items(ctx context.Context) ([]models.SourceItem, error) {
	root := w.root
	if strings.EqualFold(filepath.Ext(root), ".zip") {
		extracted, err := unpackArchive(root)
		if err != nil {
			return nil, err
		}
		w.tempDirs = append(w.tempDirs, extracted)
		root = extracted
	}

	datasets, err := datasetDirs(root)
	if err != nil {
		return nil, err
	}

	var items []models.SourceItem
	for _, dir := range datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := filepath.Base(dir)
		switch {
		case isTaskLayout(dir):
			taskItems, err := w.taskItems(dir, name)
			if err != nil {
				w.logger.Warn("skipping unreadable task export", "dir", dir, "err", err)
				continue
			}
			items = append(items, taskItems...)
		case isReleaseLayout(dir):
			releaseItems, err := w.releaseItems(dir, name)
			if err != nil {
				w.logger.Warn("skipping unreadable dataset export", "dir", dir, "err", err)
				continue
			}
			items = append(items, releaseItems...)
		default:
			w.logger.Debug("directory is not a recognized export layout", "dir", dir)
		}
	}

	return items, nil
}

// datasetDirs returns the root itself when it is a dataset, otherwise its
// immediate subdirectories sorted by name.
func datasetDirs(root string) ([]string, error) {
	if isTaskLayout(root) || isReleaseLayout(root) {
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read directory %q", root)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func isTaskLayout(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "annotations.xml"))
	return err == nil
}

func isReleaseLayout(dir string) bool {
	images, err1 := os.Stat(filepath.Join(dir, "images"))
	releases, err2 := os.Stat(filepath.Join(dir, "releases"))
	return err1 == nil && images.IsDir() && err2 == nil && releases.IsDir()
}

// taskItems reads one XML task export. A video task yields a single item
// covering the whole document; an image task yields one item per declared
// image.
func (w *Walker) taskItems(dir, dataset string) ([]models.SourceItem, error) {
	doc, err := os.ReadFile(filepath.Join(dir, "annotations.xml"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read annotations.xml")
	}

	info, err := cvat.ReadInfo(doc)
	if err != nil {
		return nil, err
	}

	imagesDir := filepath.Join(dir, "images")

	if info.IsVideo() {
		name := info.Source
		if name == "" {
			name = info.TaskName
		}
		mediaPath, err := w.videoMediaPath(dir, imagesDir, name)
		if err != nil {
			return nil, err
		}
		return []models.SourceItem{{
			ID:         dataset + ":" + name,
			Name:       name,
			Dataset:    dataset,
			Kind:       models.MediaVideo,
			Format:     models.FormatTaskXML,
			MediaPath:  mediaPath,
			SourceRef:  dir,
			Annotation: doc,
		}}, nil
	}

	items := make([]models.SourceItem, 0, len(info.ImageNames))
	for _, imageName := range info.ImageNames {
		items = append(items, models.SourceItem{
			ID:         dataset + ":" + imageName,
			Name:       imageName,
			Dataset:    dataset,
			Kind:       models.MediaImage,
			Format:     models.FormatTaskXML,
			ItemRef:    imageName,
			MediaPath:  filepath.Join(imagesDir, imageName),
			SourceRef:  dir,
			Annotation: doc,
		})
	}
	return items, nil
}

// videoMediaPath resolves the single media file of a video task. Task
// exports ship one image per frame, so when the export carries no video file
// the frames are assembled into one; the result is written next to the
// document and reused on later runs.
func (w *Walker) videoMediaPath(dir, imagesDir, name string) (string, error) {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %q", imagesDir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			return filepath.Join(imagesDir, entry.Name()), nil
		}
	}

	target := filepath.Join(dir, videoFileName(name))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	w.logger.Info("assembling video from exported frames", "frames", imagesDir, "target", target)
	if err := w.synthesize(imagesDir, target); err != nil {
		return "", errors.Wrapf(err, "failed to assemble video from frames in %q", imagesDir)
	}
	return target, nil
}

func videoFileName(name string) string {
	if videoExtensions[strings.ToLower(filepath.Ext(name))] {
		return name
	}
	return name + ".mp4"
}

// releaseItems reads one JSON dataset export, pairing each media file with
// the per-image document of the latest release.
func (w *Walker) releaseItems(dir, dataset string) ([]models.SourceItem, error) {
	annotationsDir, err := latestReleaseAnnotations(dir)
	if err != nil {
		return nil, err
	}

	imagesDir := filepath.Join(dir, "images")
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", imagesDir)
	}

	var items []models.SourceItem
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))

		switch {
		case videoExtensions[ext]:
			// Per-image documents carry no frame addressing, so video
			// entities in this layout cannot be converted.
			w.logger.Warn("video entities are not supported in JSON dataset exports, skipping", "entity", name)
			continue
		case !imageExtensions[ext]:
			w.logger.Warn("unknown entity extension, skipping", "entity", name)
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		annPath := filepath.Join(annotationsDir, stem+".json")
		doc, err := os.ReadFile(annPath)
		if err != nil {
			w.logger.Warn("entity has no annotation document, skipping", "entity", name, "path", annPath)
			continue
		}

		items = append(items, models.SourceItem{
			ID:         dataset + ":" + name,
			Name:       name,
			Dataset:    dataset,
			Kind:       models.MediaImage,
			Format:     models.FormatItemJSON,
			MediaPath:  filepath.Join(imagesDir, name),
			SourceRef:  dir,
			Annotation: doc,
		})
	}
	return items, nil
}

// latestReleaseAnnotations picks the newest release directory by name order,
// matching how the source platform numbers its exports.
func latestReleaseAnnotations(dir string) (string, error) {
	releasesDir := filepath.Join(dir, "releases")
	entries, err := os.ReadDir(releasesDir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %q", releasesDir)
	}

	var releases []string
	for _, entry := range entries {
		if entry.IsDir() {
			releases = append(releases, entry.Name())
		}
	}
	if len(releases) == 0 {
		return "", errors.Newf("no releases found in %q", releasesDir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(releases)))

	return filepath.Join(releasesDir, releases[0], "annotations"), nil
}

// unpackArchive extracts a .zip export into a temp directory and returns
// the extraction root.
func unpackArchive(path string) (string, error) {
	target, err := os.MkdirTemp("", "annoport-unpack-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create extraction directory")
	}
	if err := Unpack(path, target); err != nil {
		return "", err
	}
	return target, nil
}

// Unpack extracts a .zip export into target. Entries that would escape the
// target directory are rejected.
func Unpack(path, target string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %q", path)
	}
	defer reader.Close()

	for _, file := range reader.File {
		destination := filepath.Join(target, filepath.Clean(file.Name))
		if !strings.HasPrefix(destination, filepath.Clean(target)+string(os.PathSeparator)) {
			return errors.Newf("archive entry %q escapes extraction directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destination, 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %q", destination)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %q", filepath.Dir(destination))
		}
		if err := extractFile(file, destination); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(file *zip.File, destination string) error {
	src, err := file.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive entry %q", file.Name)
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", destination)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, "failed to extract %q", file.Name)
	}
	return nil
}
