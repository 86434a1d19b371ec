package yoloconv

// Typed annotation records and their classification from loosely-typed result JSON.

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Keys of Label Studio result values.
const (
	keyRectangleLabels = "rectanglelabels"
	keyRectangle       = "rectangle"
	keyPolygonLabels   = "polygonlabels"
	keyPolygon         = "polygon"
	keyKeypointLabels  = "keypointlabels"
	keyBrushLabels     = "brushlabels"
	keyLabels          = "labels"

	maskFormatRLE = "rle"
)

// generalLabelKeys are the keys whose names take part in box and polygon conversion, in the order
// their names are emitted.
var generalLabelKeys = []string{keyRectangleLabels, keyPolygonLabels, keyLabels}

// Kind identifies the shape family of a Record.
type Kind int

// The known shape families.
const (
	KindRectangle Kind = iota + 1
	KindPolygon
	KindKeypoint
	KindMask
	KindPlainLabel
	KindOther // Not a shape, e.g. choices, textarea or relation results.
)

func (k Kind) String() string {
	switch k {
	case KindRectangle:
		return "rectangle"
	case KindPolygon:
		return "polygon"
	case KindKeypoint:
		return "keypoint"
	case KindMask:
		return "mask"
	case KindPlainLabel:
		return "labels"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Record is one annotation result of a task. The concrete types are *RectangleRecord,
// *PolygonRecord, *KeypointRecord, *MaskRecord, *PlainLabelRecord and *OtherRecord.
type Record interface {
	Kind() Kind
	RecordID() string
	LabelNames() []string
	record()
}

// Point is a coordinate pair. Record points are percentages of the image size.
type Point struct {
	X, Y float64
}

// BoxGeometry is an axis-aligned rectangle, optionally rotated, in percent of the image size.
type BoxGeometry struct {
	X, Y, Width, Height float64
	Rotation            float64 // Degrees, clockwise about (X, Y).

	// Pixel size of the annotated image; zero if unknown.
	OriginalWidth, OriginalHeight int
}

// RectangleRecord is a labelled rectangle. Box is nil when the geometry is missing.
type RectangleRecord struct {
	ID     string
	Labels []string
	Box    *BoxGeometry
}

// PlainLabelRecord is a region labelled through a generic labels control. It is converted like a
// rectangle.
type PlainLabelRecord struct {
	ID     string
	Labels []string
	Box    *BoxGeometry
}

// PolygonRecord is a labelled polygon. Points is nil when the record has no points.
type PolygonRecord struct {
	ID     string
	Labels []string
	Points []Point
}

// KeypointRecord is a labelled keypoint, usually attached to the rectangle ParentID.
type KeypointRecord struct {
	ID       string
	ParentID string
	Labels   []string
	X, Y     float64
	Width    float64 // Marker size in percent; not exported.
}

// MaskRecord is a brush mask. Only masks with Format "rle" and a payload are converted.
type MaskRecord struct {
	ID                            string
	Labels                        []string
	Format                        string
	RLE                           []byte
	OriginalWidth, OriginalHeight int
}

// Encoded reports whether m carries a run-length encoded mask.
func (m *MaskRecord) Encoded() bool {
	return m.Format == maskFormatRLE && m.RLE != nil
}

// OtherRecord is a result without a shape, such as a choice, a text area or a relation. It has
// no category names and produces no label lines.
type OtherRecord struct {
	ID   string
	Type string // The result type tag, possibly empty.
	Raw  string // The flattened result JSON.
}

func (r *RectangleRecord) Kind() Kind  { return KindRectangle }
func (r *PlainLabelRecord) Kind() Kind { return KindPlainLabel }
func (r *PolygonRecord) Kind() Kind    { return KindPolygon }
func (r *KeypointRecord) Kind() Kind   { return KindKeypoint }
func (r *MaskRecord) Kind() Kind       { return KindMask }
func (r *OtherRecord) Kind() Kind      { return KindOther }

func (r *RectangleRecord) RecordID() string  { return r.ID }
func (r *PlainLabelRecord) RecordID() string { return r.ID }
func (r *PolygonRecord) RecordID() string    { return r.ID }
func (r *KeypointRecord) RecordID() string   { return r.ID }
func (r *MaskRecord) RecordID() string       { return r.ID }
func (r *OtherRecord) RecordID() string      { return r.ID }

func (r *RectangleRecord) LabelNames() []string  { return r.Labels }
func (r *PlainLabelRecord) LabelNames() []string { return r.Labels }
func (r *PolygonRecord) LabelNames() []string    { return r.Labels }
func (r *KeypointRecord) LabelNames() []string   { return r.Labels }
func (r *MaskRecord) LabelNames() []string       { return r.Labels }
func (r *OtherRecord) LabelNames() []string      { return nil }

func (*RectangleRecord) record()  {}
func (*PlainLabelRecord) record() {}
func (*PolygonRecord) record()    {}
func (*KeypointRecord) record()   {}
func (*MaskRecord) record()       {}
func (*OtherRecord) record()      {}

// ShapeError reports a record whose content does not fit its shape family. It aborts the
// conversion of the task containing the record.
type ShapeError struct {
	Record string // The offending record: its JSON if raised while parsing, else its Go value.
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unknown label type (%s): %s", e.Reason, e.Record)
}

// IsShapeError reports whether the cause of err is a *ShapeError.
func IsShapeError(err error) bool {
	_, ok := errors.Cause(err).(*ShapeError)
	return ok
}

// ParseRecords parses a JSON array of flattened result objects.
func ParseRecords(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid JSON")
	}
	arr := gjson.ParseBytes(data)
	if !arr.IsArray() {
		return nil, errors.Errorf("expected a JSON array of records, got %s", arr.Type)
	}

	var records []Record
	var err error
	arr.ForEach(func(_, item gjson.Result) bool {
		var r Record
		if r, err = ParseRecord(item); err != nil {
			return false
		}
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ParseRecord converts a flattened result object into its typed Record.
//
// Classification order: an RLE mask marker, then the label keys, then the case-insensitive type
// tag. A record matching none of these is an *OtherRecord, which conversion skips. Geometry that
// contradicts the shape family, such as points that are not (x, y) pairs, yields a *ShapeError.
func ParseRecord(item gjson.Result) (Record, error) {
	if !item.IsObject() {
		return nil, &ShapeError{Record: item.Raw, Reason: "not an object"}
	}

	kind := classify(item)
	switch kind {
	case KindRectangle:
		return &RectangleRecord{
			ID:     item.Get("id").String(),
			Labels: generalLabels(item),
			Box:    parseBox(item),
		}, nil

	case KindPlainLabel:
		return &PlainLabelRecord{
			ID:     item.Get("id").String(),
			Labels: generalLabels(item),
			Box:    parseBox(item),
		}, nil

	case KindPolygon:
		points, err := parsePoints(item)
		if err != nil {
			return nil, err
		}
		return &PolygonRecord{
			ID:     item.Get("id").String(),
			Labels: generalLabels(item),
			Points: points,
		}, nil

	case KindKeypoint:
		return &KeypointRecord{
			ID:       item.Get("id").String(),
			ParentID: item.Get("parentID").String(),
			Labels:   labelsAt(item, keyKeypointLabels),
			X:        item.Get("x").Float(),
			Y:        item.Get("y").Float(),
			Width:    item.Get("width").Float(),
		}, nil

	case KindMask:
		rle, err := parseRLE(item)
		if err != nil {
			return nil, err
		}
		labels := labelsAt(item, keyKeypointLabels)
		if !item.Get(keyKeypointLabels).Exists() {
			labels = labelsAt(item, keyBrushLabels)
		}
		return &MaskRecord{
			ID:             item.Get("id").String(),
			Labels:         labels,
			Format:         item.Get("format").String(),
			RLE:            rle,
			OriginalWidth:  int(item.Get("original_width").Int()),
			OriginalHeight: int(item.Get("original_height").Int()),
		}, nil
	}

	return &OtherRecord{
		ID:   item.Get("id").String(),
		Type: item.Get("type").String(),
		Raw:  item.Raw,
	}, nil
}

// classify returns the shape family of item, or zero if it has none.
func classify(item gjson.Result) Kind {
	has := func(key string) bool {
		return item.Get(key).Exists()
	}

	if item.Get("format").String() == maskFormatRLE && has("rle") {
		return KindMask
	}

	switch {
	case has(keyRectangleLabels) || has(keyRectangle):
		return KindRectangle
	case has(keyLabels):
		return KindPlainLabel
	case has(keyPolygonLabels) || has(keyPolygon):
		return KindPolygon
	case has(keyKeypointLabels):
		return KindKeypoint
	case has(keyBrushLabels):
		return KindMask
	}

	switch strings.ToLower(item.Get("type").String()) {
	case keyRectangleLabels, keyRectangle:
		return KindRectangle
	case keyLabels:
		return KindPlainLabel
	case keyPolygonLabels, keyPolygon:
		return KindPolygon
	case keyKeypointLabels, "keypoint":
		return KindKeypoint
	case keyBrushLabels, "brush":
		return KindMask
	}
	return 0
}

// generalLabels collects the names under all box and polygon label keys (multi-label).
func generalLabels(item gjson.Result) []string {
	var names []string
	for _, key := range generalLabelKeys {
		names = append(names, labelsAt(item, key)...)
	}
	return names
}

// labelsAt returns the label names stored under key.
func labelsAt(item gjson.Result, key string) []string {
	v := item.Get(key)
	if !v.IsArray() {
		return nil
	}
	var names []string
	for _, name := range v.Array() {
		names = append(names, name.String())
	}
	return names
}

// parseBox returns the box geometry of item, or nil if any of x, y, width, height is missing.
func parseBox(item gjson.Result) *BoxGeometry {
	vals := gjson.GetMany(item.Raw, "x", "y", "width", "height")
	for _, v := range vals {
		if !v.Exists() {
			return nil
		}
	}

	return &BoxGeometry{
		X:              vals[0].Float(),
		Y:              vals[1].Float(),
		Width:          vals[2].Float(),
		Height:         vals[3].Float(),
		Rotation:       item.Get("rotation").Float(),
		OriginalWidth:  int(item.Get("original_width").Int()),
		OriginalHeight: int(item.Get("original_height").Int()),
	}
}

// parsePoints returns the polygon points of item, or nil if it has no points key.
func parsePoints(item gjson.Result) ([]Point, error) {
	v := item.Get("points")
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, &ShapeError{Record: item.Raw, Reason: "points is not an array"}
	}

	pairs := v.Array()
	points := make([]Point, 0, len(pairs))
	for _, p := range pairs {
		xy := p.Array()
		if len(xy) != 2 {
			return nil, &ShapeError{Record: item.Raw, Reason: "point is not an (x, y) pair"}
		}
		points = append(points, Point{X: xy[0].Float(), Y: xy[1].Float()})
	}
	return points, nil
}

// parseRLE returns the mask payload of item as bytes, or nil if it has none.
func parseRLE(item gjson.Result) ([]byte, error) {
	v := item.Get("rle")
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, &ShapeError{Record: item.Raw, Reason: "rle is not an array of bytes"}
	}

	values := v.Array()
	rle := make([]byte, len(values))
	for i, b := range values {
		n := b.Int()
		if n < 0 || n > 255 {
			return nil, &ShapeError{Record: item.Raw, Reason: fmt.Sprintf("rle value %d out of range", n)}
		}
		rle[i] = byte(n)
	}
	return rle, nil
}
