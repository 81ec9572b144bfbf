package discovery

import (
	"archive/zip"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labelops/annoport/internal/models"
)

const imageTaskXML = `<annotations>
  <meta><task><name>street-task</name><size>2</size><mode>annotation</mode></task></meta>
  <image id="0" name="a.jpg" width="100" height="100"/>
  <image id="1" name="b.jpg" width="100" height="100"/>
</annotations>`

const videoTaskXML = `<annotations>
  <meta><task><name>dashcam-task</name><size>5</size><mode>interpolation</mode><source>dashcam.mp4</source></task></meta>
  <track label="car"><box frame="0" outside="0" xtl="1" ytl="2" xbr="3" ybr="4"/></track>
</annotations>`

const itemJSON = `{
  "item": {"name": "photo.jpg", "slots": [{"width": 10, "height": 10}]},
  "annotations": [{"name": "car", "bounding_box": {"x": 1, "y": 2, "w": 3, "h": 4}}]
}`

func writeTaskDataset(t *testing.T, root, name, doc string, images ...string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotations.xml"), []byte(doc), 0o644))
	for _, image := range images {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "images", image), []byte("jpg"), 0o644))
	}
	return dir
}

func writeReleaseDataset(t *testing.T, root, name string, entities map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	annotations := filepath.Join(dir, "releases", "2.0", "annotations")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	require.NoError(t, os.MkdirAll(annotations, 0o755))
	// An older release that must be ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "releases", "1.0", "annotations"), 0o755))

	for entity, doc := range entities {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "images", entity), []byte("img"), 0o644))
		if doc != "" {
			stem := entity[:len(entity)-len(filepath.Ext(entity))]
			require.NoError(t, os.WriteFile(filepath.Join(annotations, stem+".json"), []byte(doc), 0o644))
		}
	}
	return dir
}

func testWalker(root string) *Walker {
	return NewWalker(slog.New(slog.DiscardHandler), root)
}

func TestItemsImageTask(t *testing.T) {
	root := t.TempDir()
	writeTaskDataset(t, root, "street", imageTaskXML, "a.jpg", "b.jpg")

	items, err := testWalker(root).Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "street:a.jpg", items[0].ID)
	assert.Equal(t, "a.jpg", items[0].Name)
	assert.Equal(t, "street", items[0].Dataset)
	assert.Equal(t, models.MediaImage, items[0].Kind)
	assert.Equal(t, models.FormatTaskXML, items[0].Format)
	assert.Equal(t, "a.jpg", items[0].ItemRef)
	assert.Equal(t, filepath.Join(root, "street", "images", "a.jpg"), items[0].MediaPath)
	assert.NotEmpty(t, items[0].Annotation)

	assert.Equal(t, "b.jpg", items[1].Name)
}

func TestItemsVideoTaskAssemblesFramesIntoOneFile(t *testing.T) {
	root := t.TempDir()
	dir := writeTaskDataset(t, root, "dashcam", videoTaskXML,
		"frame_000000.jpg", "frame_000001.jpg")

	walker := testWalker(root)
	var framesSeen string
	walker.synthesize = func(framesDir, target string) error {
		framesSeen = framesDir
		return os.WriteFile(target, []byte("mp4"), 0o644)
	}

	items, err := walker.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "dashcam.mp4", items[0].Name)
	assert.Equal(t, models.MediaVideo, items[0].Kind)
	assert.Empty(t, items[0].ItemRef)
	assert.Equal(t, filepath.Join(dir, "images"), framesSeen)

	// The media path is a real file, not the frames directory.
	assert.Equal(t, filepath.Join(dir, "dashcam.mp4"), items[0].MediaPath)
	info, err := os.Stat(items[0].MediaPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestItemsVideoTaskPrefersShippedVideoFile(t *testing.T) {
	root := t.TempDir()
	dir := writeTaskDataset(t, root, "dashcam", videoTaskXML,
		"dashcam.mp4", "frame_000000.jpg")

	walker := testWalker(root)
	walker.synthesize = func(framesDir, target string) error {
		t.Fatal("no assembly needed when the export ships a video file")
		return nil
	}

	items, err := walker.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(dir, "images", "dashcam.mp4"), items[0].MediaPath)
}

func TestItemsVideoTaskReusesAssembledFile(t *testing.T) {
	root := t.TempDir()
	dir := writeTaskDataset(t, root, "dashcam", videoTaskXML, "frame_000000.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dashcam.mp4"), []byte("mp4"), 0o644))

	walker := testWalker(root)
	walker.synthesize = func(framesDir, target string) error {
		t.Fatal("assembled file from an earlier run must be reused")
		return nil
	}

	items, err := walker.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, filepath.Join(dir, "dashcam.mp4"), items[0].MediaPath)
}

func TestItemsReleaseLayout(t *testing.T) {
	root := t.TempDir()
	writeReleaseDataset(t, root, "aerial", map[string]string{
		"photo.jpg":  itemJSON,
		"orphan.jpg": "",          // no annotation document, skipped
		"clip.mp4":   "whatever",  // video entity, skipped
		"notes.txt":  "irrelevant", // unknown extension, skipped
	})

	items, err := testWalker(root).Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "aerial:photo.jpg", items[0].ID)
	assert.Equal(t, models.FormatItemJSON, items[0].Format)
	assert.JSONEq(t, itemJSON, string(items[0].Annotation))
}

func TestItemsMultipleDatasetsSortedByName(t *testing.T) {
	root := t.TempDir()
	writeTaskDataset(t, root, "zebra", imageTaskXML, "a.jpg", "b.jpg")
	writeReleaseDataset(t, root, "alpha", map[string]string{"photo.jpg": itemJSON})

	items, err := testWalker(root).Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "alpha", items[0].Dataset)
	assert.Equal(t, "zebra", items[1].Dataset)
	assert.Equal(t, "zebra", items[2].Dataset)
}

func TestItemsRootIsSingleDataset(t *testing.T) {
	root := t.TempDir()
	dir := writeTaskDataset(t, root, "only", imageTaskXML, "a.jpg", "b.jpg")

	items, err := testWalker(dir).Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "only", items[0].Dataset)
}

func TestItemsZipArchive(t *testing.T) {
	root := t.TempDir()
	writeTaskDataset(t, root, "street", imageTaskXML, "a.jpg", "b.jpg")

	archive := filepath.Join(t.TempDir(), "export.zip")
	zipDir(t, root, archive)

	items, err := testWalker(archive).Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "street", items[0].Dataset)
}

func TestCleanupRemovesExtractionDirs(t *testing.T) {
	root := t.TempDir()
	writeTaskDataset(t, root, "street", imageTaskXML, "a.jpg", "b.jpg")

	archive := filepath.Join(t.TempDir(), "export.zip")
	zipDir(t, root, archive)

	walker := testWalker(archive)
	items, err := walker.Items(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, items)

	_, err = os.Stat(items[0].MediaPath)
	require.NoError(t, err)

	walker.Cleanup()
	_, err = os.Stat(items[0].MediaPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupWithoutArchiveIsANoop(t *testing.T) {
	root := t.TempDir()
	writeTaskDataset(t, root, "street", imageTaskXML, "a.jpg")

	walker := testWalker(root)
	items, err := walker.Items(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, items)

	walker.Cleanup()
	_, err = os.Stat(items[0].MediaPath)
	assert.NoError(t, err)
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.zip")
	file, err := os.Create(archive)
	require.NoError(t, err)

	writer := zip.NewWriter(file)
	entry, err := writer.Create("../escape.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, file.Close())

	err = Unpack(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func zipDir(t *testing.T, root, target string) {
	t.Helper()
	file, err := os.Create(target)
	require.NoError(t, err)
	defer file.Close()

	writer := zip.NewWriter(file)
	defer writer.Close()

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry, err := writer.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = entry.Write(data)
		return err
	})
	require.NoError(t, err)
}
