package yoloconv

// Writing a YOLO dataset directory.

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Directory and file names of a YOLO dataset.
const (
	LabelsDir   = "labels"
	ImagesDir   = "images"
	ClassesFile = "classes.txt"
	NotesFile   = "notes.json"
)

// Export writes one label file per task to outDir/labels and the categories of reg to
// outDir/classes.txt and outDir/notes.json.
//
// Tasks are converted strictly in order with the shared registry reg, so ids are stable across
// runs over the same input. The first task that fails to convert aborts the export.
func Export(tasks []Task, outDir string, reg *Registry, opts Options) error {
	labelDir := filepath.Join(outDir, LabelsDir)
	if err := os.MkdirAll(labelDir, 0755); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", labelDir)
	}

	written := make(map[string]int64, len(tasks))
	for _, t := range tasks {
		name := t.LabelFileName()
		if prev, dup := written[name]; dup {
			log.Warnf("Tasks %d and %d share the label file %s, keeping task %d", prev, t.ID, name, t.ID)
		}
		written[name] = t.ID

		sink := FileSink(filepath.Join(labelDir, name))
		if err := ProcessTask(t.Records, sink, reg, opts); err != nil {
			return errors.Wrapf(err, "task %d", t.ID)
		}
	}

	if err := WriteCategories(outDir, reg); err != nil {
		return err
	}

	log.Infof("Wrote labels for %d tasks and %d categories to %s", len(tasks), reg.Len(), outDir)
	return nil
}

// WriteCategories writes the categories of reg to outDir/classes.txt and outDir/notes.json.
func WriteCategories(outDir string, reg *Registry) error {
	if err := reg.WriteClasses(filepath.Join(outDir, ClassesFile)); err != nil {
		return err
	}
	info := NotesInfo{
		Contributor: "Label Studio",
		Year:        time.Now().Year(),
		Version:     "1.0",
	}
	return reg.WriteNotes(filepath.Join(outDir, NotesFile), info)
}

// SeedRegistry registers the label names of cfg, sorted by name, so that categories receive ids
// independent of the order they are first annotated in. Pose tasks only emit boxes of
// categories known in advance.
func SeedRegistry(reg *Registry, cfg *LabelConfig) {
	for _, name := range cfg.LabelNames() {
		reg.Resolve(name)
	}
}
