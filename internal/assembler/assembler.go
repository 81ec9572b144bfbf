// Package assembler groups converted items into destination project
// scaffolds, enforcing the one-media-kind-per-project policy.
package assembler

import (
	"fmt"

	"github.com/labelops/annoport/internal/mapper"
	"github.com/labelops/annoport/internal/models"
	"github.com/labelops/annoport/internal/sly"
)

// Entry is one converted item together with its source-side dataset name.
type Entry struct {
	Dataset   string
	SourceRef string
	Item      sly.Item
}

type groupKey struct {
	dataset string
	kind    models.MediaKind
}

// Assemble partitions entries into media-kind-homogeneous projects. A
// dataset holding a single kind yields one project named after it; a mixed
// dataset yields exactly two, where the first-seen kind keeps the dataset
// name and the second gets a media-kind disambiguator. Output order follows
// the first appearance of each (dataset, kind) group.
func Assemble(entries []Entry) []*sly.Project {
	var order []groupKey
	groups := make(map[groupKey][]Entry)
	kindsSeen := make(map[string][]models.MediaKind)

	for _, entry := range entries {
		key := groupKey{dataset: entry.Dataset, kind: entry.Item.Kind}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
			kindsSeen[entry.Dataset] = append(kindsSeen[entry.Dataset], entry.Item.Kind)
		}
		groups[key] = append(groups[key], entry)
	}

	projects := make([]*sly.Project, 0, len(order))
	for _, key := range order {
		group := groups[key]

		name := key.dataset
		if kindsSeen[key.dataset][0] != key.kind {
			// The split project created after the first one carries the
			// disambiguator; the first keeps the original dataset name.
			name = fmt.Sprintf("%s (%ss)", key.dataset, key.kind)
		}

		project := &sly.Project{
			Name:      name,
			Kind:      key.kind,
			SourceRef: group[0].SourceRef,
		}

		dataset := sly.Dataset{Name: key.dataset}
		for _, entry := range group {
			extendMeta(&project.Meta, entry.Item.Annotation)
			dataset.Items = append(dataset.Items, entry.Item)
		}
		project.Datasets = append(project.Datasets, dataset)
		projects = append(projects, project)
	}

	return projects
}

// extendMeta registers every class and tag meta an annotation observes.
// Resolution is idempotent, so repeated names collapse to one entry.
func extendMeta(meta *sly.ProjectMeta, ann sly.Annotation) {
	registerFigures := func(figures []sly.Figure) {
		for _, figure := range figures {
			meta.AddClass(mapper.ClassFor(figure))
			for _, tag := range figure.Tags {
				meta.AddTagMeta(tag.Meta)
			}
		}
	}

	registerFigures(ann.Figures)
	for _, frame := range ann.Frames {
		registerFigures(frame.Figures)
	}
	for _, tag := range ann.Tags {
		meta.AddTagMeta(tag.Meta)
	}
}
