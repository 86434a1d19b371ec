package yoloconv

// Formatting and writing of YOLO label lines.

import (
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Value is a single numeric field of a label line.
type Value interface {
	appendTo(b []byte) []byte
}

// Int is an integer field, such as a class id or a keypoint visibility flag.
type Int int

// Float is a coordinate field.
type Float float64

func (v Int) appendTo(b []byte) []byte {
	return strconv.AppendInt(b, int64(v), 10)
}

// appendTo writes the shortest decimal that round-trips v. Integral values keep a ".0" suffix and
// magnitudes outside [1e-4, 1e16) use exponent notation, e.g. 0.0, 0.25, 1e-05.
func (v Float) appendTo(b []byte) []byte {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return append(b, "nan"...)
	case math.IsInf(f, 1):
		return append(b, "inf"...)
	case math.IsInf(f, -1):
		return append(b, "-inf"...)
	}

	if f != 0 {
		e := strconv.FormatFloat(f, 'e', -1, 64)
		exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
		if exp < -4 || exp >= 16 {
			return append(b, e...)
		}
	}

	start := len(b)
	b = strconv.AppendFloat(b, f, 'f', -1, 64)
	if strings.IndexByte(string(b[start:]), '.') < 0 {
		b = append(b, ".0"...)
	}
	return b
}

// Row is the list of fields of one label line.
type Row []Value

// String formats the row as a space-separated line without line break.
func (r Row) String() string {
	return string(r.appendTo(nil))
}

func (r Row) appendTo(b []byte) []byte {
	for i, v := range r {
		if i > 0 {
			b = append(b, ' ')
		}
		b = v.appendTo(b)
	}
	return b
}

// FormatRows formats rows as label file content, one line per row, each terminated by a line
// break.
func FormatRows(rows []Row) []byte {
	var b []byte
	for _, r := range rows {
		b = r.appendTo(b)
		b = append(b, '\n')
	}
	return b
}

// Sink is the destination of the label file of one task. Replace overwrites any prior content.
type Sink interface {
	Replace(content []byte) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(content []byte) error

// Replace calls f(content).
func (f SinkFunc) Replace(content []byte) error {
	return f(content)
}

// FileSink writes a label file at the path it names.
type FileSink string

// Replace writes content to a temporary file next to the target and renames it into place, so
// readers never observe a partially written label file.
func (s FileSink) Replace(content []byte) (err error) {
	path := string(s)
	tmp, err := ioutil.TempFile(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "cannot create file for %q", path)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "cannot write file %q", path)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "cannot replace file %q", path)
	}
	return nil
}

// WriteRows formats rows and replaces the content of sink with them in a single write.
func WriteRows(sink Sink, rows []Row) error {
	return sink.Replace(FormatRows(rows))
}
