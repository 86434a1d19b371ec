package yoloconv

import (
	"bytes"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestProcessImages(t *testing.T) {
	dir, err := ioutil.TempDir("", "images")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "src")
	if err := os.Mkdir(src, 0755); err != nil {
		t.Fatal(err)
	}
	img := imaging.New(40, 20, color.NRGBA{R: 200, A: 255})
	if err := imaging.Save(img, filepath.Join(src, "a.png")); err != nil {
		t.Fatal(err)
	}
	tasks := []Task{
		{ID: 1, ImagePath: "/data/upload/1/a.png"},
		{ID: 2, ImagePath: "/data/upload/1/missing.png"},
		{ID: 3},
	}

	// Plain copy.
	copyOut := filepath.Join(dir, "copy")
	if err := ProcessImages(tasks, src, copyOut, ImageOptions{}); err != nil {
		t.Fatal(err)
	}
	orig, err := ioutil.ReadFile(filepath.Join(src, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	copied, err := ioutil.ReadFile(filepath.Join(copyOut, ImagesDir, "a.png"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(orig, copied) {
		t.Error("copied image differs from the source")
	}

	// Resized and re-encoded.
	resizeOut := filepath.Join(dir, "resize")
	opts := ImageOptions{LongerSide: 20, Encoding: "jpg", JPEGQuality: 90}
	if err := ProcessImages(tasks, src, resizeOut, opts); err != nil {
		t.Fatal(err)
	}
	resized, err := imaging.Open(filepath.Join(resizeOut, ImagesDir, "a.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if b := resized.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("want a 20x10 image, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestProcessImages_InvalidOptions(t *testing.T) {
	if err := ProcessImages(nil, "", "", ImageOptions{Encoding: "tiff"}); err == nil {
		t.Error("expected an error for an unsupported encoding")
	}
	if err := ProcessImages(nil, "", "", ImageOptions{DownsamplingFilter: "cubic"}); err == nil {
		t.Error("expected an error for an unknown filter")
	}
}

func TestResizeImage(t *testing.T) {
	portrait := imaging.New(10, 40, color.NRGBA{A: 255})
	got := resizeImage(portrait, 0, 5, imaging.Box, imaging.Linear)
	if b := got.Bounds(); b.Dx() != 5 || b.Dy() != 20 {
		t.Errorf("want 5x20, got %dx%d", b.Dx(), b.Dy())
	}

	got = resizeImage(portrait, 80, 0, imaging.Box, imaging.Linear)
	if b := got.Bounds(); b.Dx() != 20 || b.Dy() != 80 {
		t.Errorf("want 20x80, got %dx%d", b.Dx(), b.Dy())
	}
}
