package yoloconv

// Conversion of the annotation records of one task into YOLO label lines.

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Keypoint visibility flags of the YOLO pose format.
const (
	keypointUnlabeled = 0
	keypointVisible   = 2
)

// Options selects the YOLO flavour of a conversion.
type Options struct {
	OBB           bool     // Oriented boxes instead of axis-aligned boxes.
	Keypoints     bool     // Pose (or, with RLE masks, segmentation) labels.
	KeypointOrder []string // Keypoint names in output column order.

	// Contours decodes RLE masks. BorderTracer is used if nil.
	Contours ContourExtractor
}

func (o Options) contours() ContourExtractor {
	if o.Contours == nil {
		return BorderTracer{}
	}
	return o.Contours
}

// ProcessTask converts the records of one task and replaces the content of sink with the label
// lines. Categories seen for the first time are appended to reg.
//
// Nothing is written if the conversion fails.
func ProcessTask(records []Record, sink Sink, reg *Registry, opts Options) error {
	rows, err := ConvertTask(records, reg, opts)
	if err != nil {
		return err
	}
	return WriteRows(sink, rows)
}

// ConvertTask converts the records of one task into label rows.
//
// With opts.Keypoints, tasks containing RLE masks become segmentation polygons and all other
// tasks become pose lines of a box followed by one (x, y, visibility) triple per name in
// opts.KeypointOrder. Otherwise each (record, label name) pair becomes a box, oriented box or
// polygon line.
//
// Records without a shape (*OtherRecord) are skipped. In the general conversion, a record with
// category names that is neither a box nor a polygon fails it with a *ShapeError.
func ConvertTask(records []Record, reg *Registry, opts Options) ([]Row, error) {
	if opts.Keypoints {
		return convertKeypointTask(records, reg, opts)
	}
	return convertGeneralTask(records, reg, opts.OBB)
}

// convertKeypointTask converts either all RLE masks, if there are any, or all rectangles with
// their attached keypoints.
func convertKeypointTask(records []Record, reg *Registry, opts Options) ([]Row, error) {
	var masks []*MaskRecord
	for _, r := range records {
		if m, ok := r.(*MaskRecord); ok && m.Encoded() {
			masks = append(masks, m)
		}
	}
	if len(masks) > 0 {
		return convertMasks(masks, reg, opts.contours())
	}
	return convertPoses(records, reg, opts.KeypointOrder), nil
}

// convertMasks emits one line per mask contour: the class id followed by the contour coordinates
// normalized by the mask size. Coordinates are not clamped to [0, 1].
func convertMasks(masks []*MaskRecord, reg *Registry, extractor ContourExtractor) ([]Row, error) {
	var rows []Row
	for _, m := range masks {
		if len(m.Labels) == 0 {
			log.WithField("record", m.ID).Debug("Skipping mask without label")
			continue
		}
		classID := reg.Resolve(m.Labels[0])

		contours, _, _, err := extractor.Contours(m.RLE, m.OriginalWidth, m.OriginalHeight)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot extract contours of mask %q", m.ID)
		}

		width, height := float64(m.OriginalWidth), float64(m.OriginalHeight)
		for _, c := range contours {
			row := make(Row, 1, 1+len(c))
			row[0] = Int(classID)
			for i, v := range c {
				if i%2 == 0 {
					row = append(row, Float(v/width))
				} else {
					row = append(row, Float(v/height))
				}
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// pose is a rectangle of a pose task with its attached keypoints.
type pose struct {
	classID   int
	x, y      float64 // Center.
	w, h      float64
	keypoints map[string]Point
}

// convertPoses emits one line per rectangle of a known category, in record order, with the
// keypoints whose parentID names the rectangle.
//
// Categories are only looked up, never added. Rectangles of unknown categories and keypoints
// without a parent rectangle are dropped. When rectangles share an id, the last one wins at the
// position of the first.
func convertPoses(records []Record, reg *Registry, keypointOrder []string) []Row {
	var poses []*pose
	byID := make(map[string]*pose)

	for _, r := range records {
		rect, ok := r.(*RectangleRecord)
		if !ok {
			continue
		}
		logger := log.WithField("record", rect.ID)
		if len(rect.Labels) == 0 {
			logger.Debug("Skipping rectangle without label")
			continue
		}
		classID, ok := reg.Lookup(rect.Labels[0])
		if !ok {
			logger.WithField("label", rect.Labels[0]).Debug("Skipping rectangle of unknown category")
			continue
		}
		if rect.Box == nil {
			logger.Debug("Skipping rectangle without geometry")
			continue
		}

		w, h := rect.Box.Width/100, rect.Box.Height/100
		p := &pose{
			classID:   classID,
			x:         rect.Box.X/100 + w/2,
			y:         rect.Box.Y/100 + h/2,
			w:         w,
			h:         h,
			keypoints: make(map[string]Point),
		}
		if rect.ID != "" {
			if prev, dup := byID[rect.ID]; dup {
				*prev = *p
				continue
			}
			byID[rect.ID] = p
		}
		poses = append(poses, p)
	}

	for _, r := range records {
		kp, ok := r.(*KeypointRecord)
		if !ok {
			continue
		}
		parent, ok := byID[kp.ParentID]
		if !ok || kp.ParentID == "" {
			log.WithFields(log.Fields{"record": kp.ID, "parent": kp.ParentID}).
				Debug("Skipping keypoint without parent rectangle")
			continue
		}
		if len(kp.Labels) == 0 {
			log.WithField("record", kp.ID).Debug("Skipping keypoint without label")
			continue
		}
		parent.keypoints[kp.Labels[0]] = Point{X: kp.X / 100, Y: kp.Y / 100}
	}

	rows := make([]Row, 0, len(poses))
	for _, p := range poses {
		row := make(Row, 0, 5+3*len(keypointOrder))
		row = append(row, Int(p.classID), Float(p.x), Float(p.y), Float(p.w), Float(p.h))
		for _, name := range keypointOrder {
			if kp, ok := p.keypoints[name]; ok {
				row = append(row, Float(kp.X), Float(kp.Y), Int(keypointVisible))
			} else {
				row = append(row, Float(0), Float(0), Int(keypointUnlabeled))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// convertGeneralTask emits one line per (record, label name) pair, in record then name order.
func convertGeneralTask(records []Record, reg *Registry, obb bool) ([]Row, error) {
	var rows []Row
	for _, r := range records {
		names := generalNames(r)
		if len(names) == 0 {
			log.WithFields(log.Fields{"record": r.RecordID(), "kind": r.Kind()}).
				Debug("Unknown label type or labels are empty")
			continue
		}
		switch r.(type) {
		case *RectangleRecord, *PlainLabelRecord, *PolygonRecord:
		default:
			// Named, but neither a box nor a polygon.
			return nil, &ShapeError{Record: fmt.Sprintf("%+v", r), Reason: r.Kind().String()}
		}

		for _, name := range names {
			classID := reg.Resolve(name)

			var row Row
			var ok bool
			switch r := r.(type) {
			case *RectangleRecord:
				row, ok = boxRow(classID, r.Box, obb)
			case *PlainLabelRecord:
				row, ok = boxRow(classID, r.Box, obb)
			case *PolygonRecord:
				row, ok = polygonRow(classID, r.Points)
			}

			if !ok {
				log.WithFields(log.Fields{"record": r.RecordID(), "label": name}).
					Debug("Skipping record that cannot be converted")
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// generalNames returns the names of r that take part in box and polygon conversion.
func generalNames(r Record) []string {
	switch r.(type) {
	case *KeypointRecord, *MaskRecord:
		return nil
	}
	return r.LabelNames()
}

// boxRow returns the box or oriented box line of b.
func boxRow(classID int, b *BoxGeometry, obb bool) (Row, bool) {
	if obb {
		corners, ok := YOLOOBB(b)
		if !ok {
			return nil, false
		}
		row := make(Row, 0, 9)
		row = append(row, Int(classID))
		for _, c := range corners {
			row = append(row, Float(c.X), Float(c.Y))
		}
		return row, true
	}

	x, y, w, h, ok := YOLOBox(b)
	if !ok {
		return nil, false
	}
	return Row{Int(classID), Float(x), Float(y), Float(w), Float(h)}, true
}

// polygonRow returns the polygon line of points given in percent. It returns false if the
// record has no points.
func polygonRow(classID int, points []Point) (Row, bool) {
	if points == nil {
		return nil, false
	}

	row := make(Row, 0, 1+2*len(points))
	row = append(row, Int(classID))
	for _, p := range points {
		row = append(row, Float(p.X/100), Float(p.Y/100))
	}
	return row, true
}
