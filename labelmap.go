package yoloconv

// Persisting the category registry as a TensorFlow label map (prototxt).

import (
	"io/ioutil"
	"os"
	"sort"

	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
	protos "github.com/sensorable/yoloconv/protos"
)

// SaveLabelMap converts the registry to prototxt format and writes it to path.
//
// Ids are written as assigned, i.e. zero-based.
func SaveLabelMap(path string, reg *Registry) (err error) {
	labelMap := &protos.StringIntLabelMap{
		Item: make([]*protos.StringIntLabelMapItem, 0, reg.Len()),
	}
	for _, c := range reg.Categories {
		labelMap.Item = append(labelMap.Item, &protos.StringIntLabelMapItem{
			Name: proto.String(c.Name),
			Id:   proto.Int32(int32(c.ID)),
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create the label map file %q", path)
	}
	defer closeWithErrCheck(file, &err)

	if err := proto.MarshalText(file, labelMap); err != nil {
		return errors.Wrapf(err, "failed to write the label map %q", path)
	}
	return nil
}

// LoadLabelMap restores a registry from the label map at path. The ids must be dense and start at
// zero.
//
// If an error occurs because the file does not exist, then os.IsNotExist will return true for the
// cause of the error.
func LoadLabelMap(path string) (*Registry, error) {
	text, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var labelMap protos.StringIntLabelMap
	if err := proto.UnmarshalText(string(text), &labelMap); err != nil {
		return nil, errors.Wrapf(err, "invalid label map %q", path)
	}

	items := labelMap.GetItem()
	sort.SliceStable(items, func(i, j int) bool { return items[i].GetId() < items[j].GetId() })

	names := make([]string, len(items))
	for i, item := range items {
		k, v := item.GetName(), item.GetId()
		if k == "" || int(v) != i {
			return nil, errors.Errorf("invalid entry in label map %q: %s: %d", path, k, v)
		}
		names[i] = k
	}

	reg := NewRegistry()
	if err := reg.restore(names); err != nil {
		return nil, errors.Wrapf(err, "invalid label map %q", path)
	}
	return reg, nil
}
