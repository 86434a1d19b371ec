package yoloconv

// Transformations of a list of tasks before export.

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Tasks is the list of tasks of an export.
type Tasks []Task

// categoryLabels returns a pointer to the category names of r. Keypoint names are not
// categories, so keypoints yield nil.
func categoryLabels(r Record) *[]string {
	switch r := r.(type) {
	case *RectangleRecord:
		return &r.Labels
	case *PlainLabelRecord:
		return &r.Labels
	case *PolygonRecord:
		return &r.Labels
	case *MaskRecord:
		return &r.Labels
	}
	return nil
}

// MapLabels replaces category name (sub-)strings with substitution values, as specified in
// mappings.
//
// The format of mappings is old=new.
func (tasks Tasks) MapLabels(mappings []string) error {
	if len(mappings) == 0 {
		return nil
	}

	replacer := make([]string, 0, 2*len(mappings))
	for _, m := range mappings {
		a := strings.Split(m, "=")
		if len(a) != 2 {
			return errors.Errorf("invalid mapping: %v", m)
		}
		replacer = append(replacer, a[0], a[1])
	}

	// Apply the replacements in order, each to the result of the previous ones.
	count := 0
	for _, t := range tasks {
		for _, r := range t.Records {
			labels := categoryLabels(r)
			if labels == nil {
				continue
			}
			for i, old := range *labels {
				name := old
				for j := 0; j < len(replacer); j += 2 {
					name = strings.Replace(name, replacer[j], replacer[j+1], -1)
				}
				if name != old {
					(*labels)[i] = name
					count++
				}
			}
		}
	}

	log.Infof("The label mappings changed %d labels", count)
	return nil
}

// FilterLabels removes category names not in keep from all records, and records left without
// category names. Keypoints are kept; without their parent rectangle they are dropped during
// conversion anyway. Results without a shape are kept as they are.
func (tasks Tasks) FilterLabels(keep []string) {
	if len(keep) == 0 {
		return
	}
	allowed := make(map[string]bool, len(keep))
	for _, name := range keep {
		allowed[name] = true
	}

	removed := 0
	for ti := range tasks {
		records := tasks[ti].Records[:0]
		for _, r := range tasks[ti].Records {
			labels := categoryLabels(r)
			if labels == nil {
				records = append(records, r)
				continue
			}

			kept := (*labels)[:0]
			for _, name := range *labels {
				if allowed[name] {
					kept = append(kept, name)
				}
			}
			removed += len(*labels) - len(kept)
			*labels = kept

			if len(kept) > 0 {
				records = append(records, r)
			}
		}
		tasks[ti].Records = records
	}

	log.Infof("Filtered out %d labels", removed)
}

// Split randomly splits the tasks into multiple datasets.
//
// The cumulativeSplits specify the cumulative distribution according to which the tasks are split
// into the returned datasets. Its values must add up to 100! The split is reproducible for a
// given seed.
func (tasks Tasks) Split(cumulativeSplits []int, seed int64) ([]Tasks, error) {
	datasets := make([]Tasks, len(cumulativeSplits))

	// Allocate slightly more than the expected size for each dataset.
	var sum int
	for i, s := range cumulativeSplits {
		if s < sum {
			return nil, errors.Errorf("the split percentages must be cumulative")
		}
		datasets[i] = make(Tasks, 0, int(1.05*float64(s-sum)/100*float64(len(tasks))))
		sum = s
	}
	if sum != 100 {
		return nil, errors.Errorf("the split percentages do not add up to 100")
	}

	rng := rand.New(rand.NewSource(seed))

outer:
	for _, t := range tasks {
		r := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if r < s {
				datasets[i] = append(datasets[i], t)
				continue outer
			}
		}
	}

	return datasets, nil
}
