package yoloconv

// Label Studio JSON export reading.

import (
	"fmt"
	"io/ioutil"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Task is one annotated image of a Label Studio export.
type Task struct {
	ID        int64
	ImagePath string // Image reference from the task data, e.g. "/data/upload/1/img.jpg".
	Records   []Record
}

// ImageName returns the file name of the task image, or "" if the task has none.
func (t Task) ImageName() string {
	return imageRefName(t.ImagePath)
}

// imageRefName returns the file name referenced by ref, a path or URL.
func imageRefName(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil {
		// Local file storage references the file in the "d" query parameter.
		if d := u.Query().Get("d"); d != "" {
			ref = d
		} else if u.Path != "" {
			ref = u.Path
		}
	}
	return path.Base(ref)
}

// Extensions of the image files a task can reference.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".tif": true,
	".tiff": true, ".webp": true,
}

// isImageRef reports whether ref names a file with an image extension.
func isImageRef(ref string) bool {
	return imageExts[strings.ToLower(path.Ext(imageRefName(ref)))]
}

// LabelFileName returns the name of the YOLO label file of t: the image name with a .txt
// extension, or "task-<id>.txt" for tasks without an image.
func (t Task) LabelFileName() string {
	name := t.ImageName()
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("task-%d.txt", t.ID)
	}
	return strings.TrimSuffix(name, path.Ext(name)) + ".txt"
}

// Result keys copied next to the value fields when flattening a result.
var resultMetaKeys = []string{"type", "id", "parentID", "original_width", "original_height"}

// FromLabelStudio reads tasks from a Label Studio JSON export file (an array of tasks) or from a
// directory of JSON files holding one task or an array of tasks each.
//
// A result that matches no known shape family fails the read with a *ShapeError naming the task.
func FromLabelStudio(exportPath string) ([]Task, error) {
	info, err := os.Stat(exportPath)
	if err != nil {
		return nil, err
	}

	files := []string{exportPath}
	if info.IsDir() {
		if files, err = filesByExtInDir(exportPath, ".json"); err != nil {
			return nil, err
		}
	}
	log.Infof("Parsing Label Studio tasks from %d files", len(files))

	var tasks []Task
	for _, f := range files {
		enc, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, err
		}
		fileTasks, err := ParseTasks(enc)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse Label Studio input from %q", f)
		}
		tasks = append(tasks, fileTasks...)
	}

	return tasks, nil
}

// ParseTasks parses a JSON task or array of tasks.
func ParseTasks(data []byte) ([]Task, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}

	doc := gjson.ParseBytes(data)
	if doc.IsObject() {
		t, err := parseTask(doc)
		if err != nil {
			return nil, err
		}
		return []Task{t}, nil
	}
	if !doc.IsArray() {
		return nil, errors.Errorf("expected a task or an array of tasks, got %s", doc.Type)
	}

	var tasks []Task
	var err error
	doc.ForEach(func(_, item gjson.Result) bool {
		var t Task
		if t, err = parseTask(item); err != nil {
			return false
		}
		tasks = append(tasks, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// parseTask converts one task, using its first annotation that was not cancelled, or its first
// prediction if it has no usable annotation.
func parseTask(item gjson.Result) (Task, error) {
	t := Task{
		ID:        item.Get("id").Int(),
		ImagePath: taskImage(item.Get("data")),
	}

	var results gjson.Result
	item.Get("annotations").ForEach(func(_, a gjson.Result) bool {
		if a.Get("was_cancelled").Bool() {
			return true
		}
		results = a.Get("result")
		return false
	})
	if !results.Exists() {
		results = item.Get("predictions.0.result")
	}

	var err error
	results.ForEach(func(_, res gjson.Result) bool {
		var flat string
		if flat, err = flattenResult(res); err != nil {
			return false
		}
		var r Record
		if r, err = ParseRecord(gjson.Parse(flat)); err != nil {
			return false
		}
		t.Records = append(t.Records, r)
		return true
	})
	if err != nil {
		return Task{}, errors.Wrapf(err, "task %d", t.ID)
	}
	return t, nil
}

// taskImage returns the "image" entry of the task data, or else its first string entry that
// references an image file.
func taskImage(data gjson.Result) string {
	if img := data.Get("image"); img.Type == gjson.String {
		return img.String()
	}
	var ref string
	data.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String && isImageRef(v.String()) {
			ref = v.String()
			return false
		}
		return true
	})
	return ref
}

// flattenResult merges the value object of a result with its type, id, parent and image size.
func flattenResult(res gjson.Result) (string, error) {
	flat := "{}"
	if v := res.Get("value"); v.IsObject() {
		flat = v.Raw
	}

	var err error
	for _, key := range resultMetaKeys {
		v := res.Get(key)
		if !v.Exists() {
			continue
		}
		if flat, err = sjson.SetRaw(flat, key, v.Raw); err != nil {
			return "", errors.Wrapf(err, "cannot flatten result %s", res.Raw)
		}
	}
	return flat, nil
}
