package pipeline

import (
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/labelops/annoport/internal/cvat"
	"github.com/labelops/annoport/internal/darwin"
	"github.com/labelops/annoport/internal/mapper"
	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

// converted is the per-item outcome of the parse and map stages.
type converted struct {
	item   sly.Item
	labels int
	skips  map[models.ReasonCode]int
}

// convertItem runs one source item through the parser and the mappers. The
// returned error means the whole item failed (PARSE_ERROR); label-level
// problems are folded into the skip histogram instead.
func convertItem(source models.SourceItem) (converted, error) {
	parsed, err := parseItem(source)
	if err != nil {
		return converted{}, err
	}

	out := converted{
		item: sly.Item{
			Name:      source.Name,
			MediaPath: source.MediaPath,
			Kind:      source.Kind,
			SourceID:  source.ID,
		},
		skips: make(map[models.ReasonCode]int),
	}
	for _, skip := range parsed.Skipped {
		out.skips[skip.Reason]++
	}

	ann := sly.Annotation{
		Size:       [2]int{parsed.Height, parsed.Width},
		FrameCount: parsed.FrameCount,
	}

	// Every intermediate label yields exactly one outcome: figures or a
	// counted skip.
	frameFigures := make(map[int][]sly.Figure)
	var frameOrder []int
	for _, label := range parsed.Labels {
		result := mapper.MapLabel(label)
		if result.Skipped() {
			out.skips[result.Skip]++
			continue
		}
		out.labels++
		if source.Kind == models.MediaVideo {
			if _, ok := frameFigures[label.Frame]; !ok {
				frameOrder = append(frameOrder, label.Frame)
			}
			frameFigures[label.Frame] = append(frameFigures[label.Frame], result.Figures...)
		} else {
			ann.Figures = append(ann.Figures, result.Figures...)
		}
	}

	if source.Kind == models.MediaVideo {
		sort.Ints(frameOrder)
		for _, frame := range frameOrder {
			ann.Frames = append(ann.Frames, sly.Frame{Index: frame, Figures: frameFigures[frame]})
		}
		// The declared video name wins over the on-disk frame names.
		if parsed.VideoName != "" {
			out.item.Name = parsed.VideoName
		}
	}

	for _, tag := range parsed.Tags {
		ann.Tags = append(ann.Tags, mapper.MapTag(tag))
	}

	out.item.Annotation = ann
	return out, nil
}

func parseItem(source models.SourceItem) (*models.ParsedItem, error) {
	switch source.Format {
	case models.FormatTaskXML:
		if source.Kind == models.MediaVideo {
			return cvat.ParseVideo(source.Annotation)
		}
		return cvat.ParseImage(source.Annotation, source.ItemRef)
	case models.FormatItemJSON:
		return darwin.ParseImage(source.Annotation)
	default:
		return nil, errors.Newf("unknown document format %q", source.Format)
	}
}
