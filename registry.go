package yoloconv

// The category registry shared by all tasks of one export.

import (
	"encoding/json"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
)

// Category is a YOLO class. The ID is its zero-based index in the registry.
type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Registry assigns dense, zero-based class ids to category names in first-seen order.
//
// It is append-only and not safe for concurrent use. One Registry is threaded through every task
// of an export, in task order, so that repeated runs over the same input assign identical ids.
type Registry struct {
	Categories []Category     // Categories[i].ID == i.
	byName     map[string]int // Name to index in Categories.
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Resolve returns the id of name, appending a new category if name has not been seen before.
func (r *Registry) Resolve(name string) int {
	if id, ok := r.Lookup(name); ok {
		return id
	}
	if r.byName == nil {
		r.byName = make(map[string]int)
	}

	id := len(r.Categories)
	r.Categories = append(r.Categories, Category{ID: id, Name: name})
	r.byName[name] = id
	return id
}

// Lookup returns the id of name without modifying the registry.
func (r *Registry) Lookup(name string) (int, bool) {
	id, ok := r.byName[name]
	return id, ok
}

// Len is the number of registered categories.
func (r *Registry) Len() int {
	return len(r.Categories)
}

// Names returns the category names ordered by id.
func (r *Registry) Names() []string {
	names := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		names[i] = c.Name
	}
	return names
}

// restore rebuilds the registry from names ordered by id.
func (r *Registry) restore(names []string) error {
	r.Categories = make([]Category, 0, len(names))
	r.byName = make(map[string]int, len(names))
	for _, name := range names {
		if _, dup := r.byName[name]; dup {
			return errors.Errorf("duplicate category %q", name)
		}
		r.Resolve(name)
	}
	return nil
}

// WriteClasses writes the category names to path, one per line in id order (classes.txt).
func (r *Registry) WriteClasses(path string) error {
	var b strings.Builder
	for _, c := range r.Categories {
		b.WriteString(c.Name)
		b.WriteByte('\n')
	}
	if err := ioutil.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	return nil
}

// ReadClasses restores a registry from a classes.txt file written by WriteClasses.
func ReadClasses(path string) (*Registry, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			names = append(names, l)
		}
	}

	r := NewRegistry()
	if err := r.restore(names); err != nil {
		return nil, errors.Wrapf(err, "invalid classes file %q", path)
	}
	return r, nil
}

// Notes is the notes.json document accompanying a YOLO export.
type Notes struct {
	Categories []Category `json:"categories"`
	Info       NotesInfo  `json:"info"`
}

// NotesInfo describes the export that produced the labels.
type NotesInfo struct {
	Contributor string `json:"contributor"`
	Description string `json:"description"`
	Year        int    `json:"year"`
	Version     string `json:"version"`
}

// WriteNotes writes the registry and info as JSON to path.
func (r *Registry) WriteNotes(path string, info NotesInfo) error {
	categories := r.Categories
	if categories == nil {
		categories = []Category{} // Must not become JSON null.
	}

	enc, err := json.MarshalIndent(Notes{Categories: categories, Info: info}, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, enc, 0644); err != nil {
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	return nil
}
