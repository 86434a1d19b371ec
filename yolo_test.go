package yoloconv

import (
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// fakeContours returns fixed contours and records its calls.
type fakeContours struct {
	contours [][]float64
	calls    int
}

func (f *fakeContours) Contours(rle []byte, width, height int) (
	[][]float64, [][4]float64, []float64, error) {
	f.calls++
	return f.contours, nil, nil, nil
}

// convertToText converts records and returns the label file content.
func convertToText(t *testing.T, records []Record, reg *Registry, opts Options) string {
	t.Helper()
	var content string
	sink := SinkFunc(func(b []byte) error {
		content = string(b)
		return nil
	})
	if err := ProcessTask(records, sink, reg, opts); err != nil {
		t.Fatal(err)
	}
	return content
}

func rect(id string, x, y, w, h float64, labels ...string) *RectangleRecord {
	return &RectangleRecord{ID: id, Labels: labels, Box: &BoxGeometry{X: x, Y: y, Width: w, Height: h}}
}

func TestConvertTask_Box(t *testing.T) {
	reg := NewRegistry()
	got := convertToText(t, []Record{rect("r", 10, 20, 30, 40, "cat")}, reg, Options{})

	if want := "0 0.25 0.4 0.3 0.4\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	if want := []Category{{0, "cat"}}; !reflect.DeepEqual(reg.Categories, want) {
		t.Fatalf("want categories %v, got %v", want, reg.Categories)
	}
}

func TestConvertTask_MultiLabel(t *testing.T) {
	reg := NewRegistry()
	reg.Resolve("dog")
	records := []Record{
		rect("r1", 10, 20, 30, 40, "cat", "dog", "pet"),
		&PlainLabelRecord{ID: "p", Labels: []string{"dog"}, Box: &BoxGeometry{X: 0, Y: 0, Width: 50, Height: 50}},
	}
	got := convertToText(t, records, reg, Options{})

	want := "1 0.25 0.4 0.3 0.4\n" +
		"0 0.25 0.4 0.3 0.4\n" +
		"2 0.25 0.4 0.3 0.4\n" +
		"0 0.25 0.25 0.5 0.5\n"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestConvertTask_OBB(t *testing.T) {
	records := []Record{
		&RectangleRecord{ID: "r", Labels: []string{"ship"}, Box: &BoxGeometry{
			X: 10, Y: 20, Width: 50, Height: 25, OriginalWidth: 200, OriginalHeight: 100}},
		// Not convertible without the image size.
		rect("s", 10, 20, 30, 40, "ship"),
	}
	got := convertToText(t, records, NewRegistry(), Options{OBB: true})

	if want := "0 0.1 0.2 0.6 0.2 0.6 0.45 0.1 0.45\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestConvertTask_Polygon(t *testing.T) {
	records := []Record{
		&PolygonRecord{ID: "p", Labels: []string{"roof"}, Points: []Point{{10, 20}, {50, 20}, {30, 70}}},
		&PolygonRecord{ID: "q", Labels: []string{"wall"}}, // No points.
	}
	reg := NewRegistry()
	got := convertToText(t, records, reg, Options{})

	if want := "0 0.1 0.2 0.5 0.2 0.3 0.7\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	// The category of the skipped polygon is still registered.
	if reg.Len() != 2 {
		t.Fatalf("want 2 categories, got %v", reg.Categories)
	}
}

func TestConvertTask_SkipsRecordsWithoutGeneralLabels(t *testing.T) {
	records := []Record{
		&RectangleRecord{ID: "empty"},
		&KeypointRecord{ID: "k", ParentID: "r", Labels: []string{"nose"}, X: 1, Y: 1},
		&MaskRecord{ID: "m", Labels: []string{"hand"}, Format: "rle", RLE: []byte{0}},
		rect("r", 0, 0, 10, 10),
	}
	reg := NewRegistry()
	got := convertToText(t, records, reg, Options{})
	if got != "" {
		t.Fatalf("want no lines, got %q", got)
	}
	if reg.Len() != 0 {
		t.Fatalf("want no categories, got %v", reg.Categories)
	}
}

func TestConvertTask_PoseDefaultTriple(t *testing.T) {
	reg := NewRegistry()
	reg.Resolve("person")
	opts := Options{Keypoints: true, KeypointOrder: []string{"nose", "tail"}}
	got := convertToText(t, []Record{rect("r1", 10, 20, 30, 40, "person")}, reg, opts)

	if want := "0 0.25 0.4 0.3 0.4 0.0 0.0 0 0.0 0.0 0\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestConvertTask_Pose(t *testing.T) {
	reg := NewRegistry()
	reg.Resolve("person")
	reg.Resolve("dog")

	records := []Record{
		&KeypointRecord{ID: "k0", ParentID: "r2", Labels: []string{"tail"}, X: 50, Y: 60},
		rect("r1", 10, 20, 30, 40, "person"),
		rect("r2", 0, 0, 50, 50, "dog"),
		rect("r3", 0, 0, 10, 10, "unknown"),
		&KeypointRecord{ID: "k1", ParentID: "r1", Labels: []string{"nose"}, X: 20, Y: 30},
		&KeypointRecord{ID: "k2", ParentID: "r1", Labels: []string{"nose"}, X: 25, Y: 35},
		&KeypointRecord{ID: "k3", ParentID: "r3", Labels: []string{"nose"}, X: 1, Y: 1},
		&KeypointRecord{ID: "k4", ParentID: "nope", Labels: []string{"nose"}, X: 1, Y: 1},
		&KeypointRecord{ID: "k5", Labels: []string{"nose"}, X: 1, Y: 1},
	}
	opts := Options{Keypoints: true, KeypointOrder: []string{"nose", "tail"}}
	got := convertToText(t, records, reg, opts)

	want := "0 0.25 0.4 0.3 0.4 0.25 0.35 2 0.0 0.0 0\n" +
		"1 0.25 0.25 0.5 0.5 0.0 0.0 0 0.5 0.6 2\n"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	// Pose conversion only looks categories up.
	if reg.Len() != 2 {
		t.Fatalf("want 2 categories, got %v", reg.Categories)
	}
}

func TestConvertTask_PoseDuplicateRectangleID(t *testing.T) {
	reg := NewRegistry()
	reg.Resolve("a")
	reg.Resolve("b")
	records := []Record{
		rect("r1", 0, 0, 10, 10, "a"),
		rect("r2", 0, 0, 20, 20, "a"),
		rect("r1", 0, 0, 40, 40, "b"),
	}
	got := convertToText(t, records, reg, Options{Keypoints: true})

	want := "1 0.2 0.2 0.4 0.4\n" +
		"0 0.1 0.1 0.2 0.2\n"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestConvertTask_MaskExclusivity(t *testing.T) {
	reg := NewRegistry()
	reg.Resolve("person")
	contours := &fakeContours{contours: [][]float64{{0, 0, 10, 0, 10, 10, 0, 10}}}
	records := []Record{
		rect("r1", 10, 20, 30, 40, "person"),
		&KeypointRecord{ID: "k1", ParentID: "r1", Labels: []string{"nose"}, X: 20, Y: 30},
		&MaskRecord{ID: "1550", Labels: []string{"hand"}, Format: "rle", RLE: []byte("fake"),
			OriginalWidth: 100, OriginalHeight: 100},
	}
	opts := Options{Keypoints: true, KeypointOrder: []string{"nose"}, Contours: contours}
	got := convertToText(t, records, reg, opts)

	if want := "1 0.0 0.0 0.1 0.0 0.1 0.1 0.0 0.1\n"; got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	if contours.calls != 1 {
		t.Fatalf("want 1 contour extraction, got %d", contours.calls)
	}
}

func TestConvertTask_MaskNormalization(t *testing.T) {
	reg := NewRegistry()
	contours := &fakeContours{contours: [][]float64{
		{0, 0, 10, 0, 10, 10, 0, 10},
		{200, 50, 210, 50, 205, 60},
	}}
	records := []Record{
		&MaskRecord{ID: "m", Labels: []string{"hand"}, Format: "rle", RLE: []byte{1},
			OriginalWidth: 200, OriginalHeight: 100},
		// Without the rle format marker the mask is not converted.
		&MaskRecord{ID: "n", Labels: []string{"foot"}, RLE: []byte{1},
			OriginalWidth: 200, OriginalHeight: 100},
	}
	got := convertToText(t, records, reg, Options{Keypoints: true, Contours: contours})

	// Coordinates beyond the mask are not clamped.
	want := "0 0.0 0.0 0.05 0.0 0.05 0.1 0.0 0.1\n" +
		"0 1.0 0.5 1.05 0.5 1.025 0.6\n"
	if got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
	if want := []Category{{0, "hand"}}; !reflect.DeepEqual(reg.Categories, want) {
		t.Fatalf("want categories %v, got %v", want, reg.Categories)
	}
}

func TestConvertTask_MaskError(t *testing.T) {
	failing := ContourFunc(func([]byte, int, int) ([][]float64, [][4]float64, []float64, error) {
		return nil, nil, nil, errors.New("corrupt")
	})
	records := []Record{&MaskRecord{ID: "m", Labels: []string{"hand"}, Format: "rle", RLE: []byte{1},
		OriginalWidth: 1, OriginalHeight: 1}}

	written := false
	sink := SinkFunc(func([]byte) error {
		written = true
		return nil
	})
	err := ProcessTask(records, sink, NewRegistry(), Options{Keypoints: true, Contours: failing})
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Fatalf("want the extraction error, got %v", err)
	}
	if written {
		t.Fatal("label file written despite the error")
	}
}

// unknownRecord is a record of a shape family the converter does not know.
type unknownRecord struct{ RectangleRecord }

func (*unknownRecord) Kind() Kind { return Kind(99) }

func TestConvertTask_UnknownShapeAborts(t *testing.T) {
	records := []Record{
		rect("r", 10, 20, 30, 40, "cat"),
		&unknownRecord{RectangleRecord{ID: "u", Labels: []string{"x"}}},
	}

	written := false
	sink := SinkFunc(func([]byte) error {
		written = true
		return nil
	})
	err := ProcessTask(records, sink, NewRegistry(), Options{})
	if !IsShapeError(err) {
		t.Fatalf("want a shape error, got %v", err)
	}
	if !strings.Contains(err.Error(), "u") {
		t.Fatalf("error does not identify the record: %v", err)
	}
	if written {
		t.Fatal("label file written despite the error")
	}

	reg := NewRegistry()
	if _, err := ConvertTask([]Record{records[1]}, reg, Options{}); !IsShapeError(err) {
		t.Fatalf("want a shape error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("category registered for a rejected record: %v", reg.Categories)
	}
}

func TestConvertTask_SkipsOtherRecords(t *testing.T) {
	other := []Record{
		&OtherRecord{ID: "c", Type: "choices", Raw: `{"id":"c","type":"choices","choices":["x"]}`},
		&OtherRecord{Type: "relation", Raw: `{"type":"relation"}`},
	}
	records := append([]Record{rect("r", 10, 20, 30, 40, "cat")}, other...)

	if got := convertToText(t, records, NewRegistry(), Options{}); got != "0 0.25 0.4 0.3 0.4\n" {
		t.Errorf("general: unexpected content %q", got)
	}

	reg := NewRegistry()
	reg.Resolve("cat")
	got := convertToText(t, records, reg, Options{Keypoints: true})
	if got != "0 0.25 0.4 0.3 0.4\n" {
		t.Errorf("pose: unexpected content %q", got)
	}
	if got := convertToText(t, other, NewRegistry(), Options{}); got != "" {
		t.Errorf("want an empty file, got %q", got)
	}
}

func TestConvertTask_StableIDsAcrossTasks(t *testing.T) {
	tasks := [][]Record{
		{rect("a", 0, 0, 10, 10, "dog"), rect("b", 0, 0, 10, 10, "cat")},
		{rect("c", 0, 0, 10, 10, "bird"), rect("d", 0, 0, 10, 10, "dog")},
	}

	run := func() ([]Category, []string) {
		reg := NewRegistry()
		var out []string
		for _, records := range tasks {
			out = append(out, convertToText(t, records, reg, Options{}))
		}
		return reg.Categories, out
	}

	cats1, out1 := run()
	cats2, out2 := run()
	if !reflect.DeepEqual(cats1, cats2) || !reflect.DeepEqual(out1, out2) {
		t.Fatalf("runs differ: %v %v / %v %v", cats1, out1, cats2, out2)
	}
	if want := "2 0.05 0.05 0.1 0.1\n0 0.05 0.05 0.1 0.1\n"; out1[1] != want {
		t.Fatalf("want %q, got %q", want, out1[1])
	}
}
