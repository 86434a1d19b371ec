package yoloconv

// Label configuration (XML) parsing.

import (
	"encoding/xml"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ConfigLabel is a <Label> of a labelling control.
type ConfigLabel struct {
	Value      string
	ModelIndex int  // Position in the model output, if HasIndex.
	HasIndex   bool // Whether the label has a model_index attribute.
}

// LabelControl is a labelling control tag, such as <RectangleLabels> or <KeyPointLabels>.
type LabelControl struct {
	Type   string // Tag name in lower case.
	Name   string
	ToName string
	Labels []ConfigLabel
}

// LabelConfig is the parsed labelling interface of a project.
type LabelConfig struct {
	Controls []LabelControl
}

const keypointControl = "keypointlabels"

// ParseLabelConfig parses the XML label configuration. Tag names are matched case-insensitively.
func ParseLabelConfig(config string) (*LabelConfig, error) {
	dec := xml.NewDecoder(strings.NewReader(config))
	dec.Strict = false

	cfg := &LabelConfig{}
	var current *LabelControl
	depth, controlDepth := 0, 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "invalid label config")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			tag := strings.ToLower(t.Name.Local)
			switch {
			case current == nil && strings.HasSuffix(tag, "labels"):
				cfg.Controls = append(cfg.Controls, LabelControl{
					Type:   tag,
					Name:   attr(t, "name"),
					ToName: attr(t, "toName"),
				})
				current = &cfg.Controls[len(cfg.Controls)-1]
				controlDepth = depth
			case current != nil && tag == "label":
				l := ConfigLabel{Value: attr(t, "value")}
				if s := attr(t, "model_index"); s != "" {
					idx, err := strconv.Atoi(s)
					if err != nil {
						return nil, errors.Errorf("invalid model_index %q of label %q", s, l.Value)
					}
					l.ModelIndex, l.HasIndex = idx, true
				}
				current.Labels = append(current.Labels, l)
			}
		case xml.EndElement:
			if current != nil && depth == controlDepth {
				current = nil
			}
			depth--
		}
	}

	return cfg, nil
}

// attr returns the value of the attribute name of e, matched case-insensitively.
func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

// HasKeypoints reports whether the configuration has a keypoint labelling control.
func (c *LabelConfig) HasKeypoints() bool {
	for _, ctl := range c.Controls {
		if ctl.Type == keypointControl {
			return true
		}
	}
	return false
}

// KeypointOrder returns the keypoint names in output column order: labels of all keypoint
// controls in document order, without duplicates, with labels that have a model_index sorted by
// it ahead of the others.
func (c *LabelConfig) KeypointOrder() []string {
	var labels []ConfigLabel
	seen := make(map[string]bool)
	for _, ctl := range c.Controls {
		if ctl.Type != keypointControl {
			continue
		}
		for _, l := range ctl.Labels {
			if !seen[l.Value] {
				seen[l.Value] = true
				labels = append(labels, l)
			}
		}
	}

	sort.SliceStable(labels, func(i, j int) bool {
		a, b := labels[i], labels[j]
		if a.HasIndex != b.HasIndex {
			return a.HasIndex
		}
		return a.HasIndex && a.ModelIndex < b.ModelIndex
	})

	order := make([]string, len(labels))
	for i, l := range labels {
		order[i] = l.Value
	}
	return order
}

// LabelNames returns the sorted, unique label names of all controls.
func (c *LabelConfig) LabelNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, ctl := range c.Controls {
		for _, l := range ctl.Labels {
			if !seen[l.Value] {
				seen[l.Value] = true
				names = append(names, l.Value)
			}
		}
	}
	sort.Strings(names)
	return names
}

// KeypointOrder parses config and returns its keypoint order.
func KeypointOrder(config string) ([]string, error) {
	cfg, err := ParseLabelConfig(config)
	if err != nil {
		return nil, err
	}
	return cfg.KeypointOrder(), nil
}
