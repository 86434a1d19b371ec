package yoloconv

// Copying and resizing of the task images into a YOLO dataset.

import (
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ImageOptions controls ProcessImages.
type ImageOptions struct {
	LongerSide, ShorterSide int    // Target side lengths; zero keeps the aspect ratio.
	DownsamplingFilter      string // {nearest, box, linear, gaussian, lanczos}; default box.
	UpsamplingFilter        string // Default linear.
	Encoding                string // {jpg, png}; empty keeps the source file unchanged.
	JPEGQuality             int
}

func (o ImageOptions) resizes() bool {
	return o.LongerSide > 0 || o.ShorterSide > 0
}

// resampleFilter returns the imaging filter for name.
func resampleFilter(name string) (imaging.ResampleFilter, error) {
	switch name {
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, errors.Errorf("unknown resampling filter %q", name)
}

// ProcessImages copies the image of every task from imageDir to outDir/images, resizing and
// re-encoding it as requested. YOLO coordinates are normalized, so the labels stay valid.
//
// Tasks are matched to image files by their ImageName. Missing images are logged and skipped.
func ProcessImages(tasks []Task, imageDir, outDir string, opts ImageOptions) error {
	if opts.DownsamplingFilter == "" {
		opts.DownsamplingFilter = "box"
	}
	if opts.UpsamplingFilter == "" {
		opts.UpsamplingFilter = "linear"
	}
	downsample, err := resampleFilter(opts.DownsamplingFilter)
	if err != nil {
		return err
	}
	upsample, err := resampleFilter(opts.UpsamplingFilter)
	if err != nil {
		return err
	}

	var fileExt string
	switch strings.ToLower(opts.Encoding) {
	case "":
	case "jpg", "jpeg":
		fileExt = ".jpg"
	case "png":
		fileExt = ".png"
	default:
		return errors.Errorf("unsupported output encoding %q", opts.Encoding)
	}

	imageOutDir := filepath.Join(outDir, ImagesDir)
	if err := os.MkdirAll(imageOutDir, 0755); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", imageOutDir)
	}
	log.Infof("Processing images for %d tasks", len(tasks))

	// Limit the number of goroutines in flight, as they load potentially large images into memory.
	numWorkers := 2 * runtime.NumCPU()
	if len(tasks) < numWorkers {
		numWorkers = len(tasks)
	}
	workQueue := make(chan string, 2*numWorkers)
	errs := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for name := range workQueue {
				err := processImage(filepath.Join(imageDir, name), imageOutDir, fileExt, opts,
					downsample, upsample)
				if err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}

	for _, t := range tasks {
		name := t.ImageName()
		if name == "" {
			continue
		}
		workQueue <- name
	}
	close(workQueue)
	wg.Wait()

	close(errs)
	return <-errs
}

// processImage writes the image at path to outDir, resized and re-encoded if requested.
func processImage(path, outDir, fileExt string, opts ImageOptions,
	downsample, upsample imaging.ResampleFilter) error {

	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Warnf("Image %q not found, skipping", path)
		return nil
	}

	name := filepath.Base(path)
	if !opts.resizes() && fileExt == "" {
		return copyFile(path, filepath.Join(outDir, name))
	}

	img, err := imaging.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot load image %q", path)
	}
	if opts.resizes() {
		img = resizeImage(img, opts.LongerSide, opts.ShorterSide, downsample, upsample)
	}

	if fileExt != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + fileExt
	}
	outPath := filepath.Join(outDir, name)
	if err := imaging.Save(img, outPath, imaging.JPEGQuality(opts.JPEGQuality)); err != nil {
		return errors.Wrapf(err, "cannot save image %q", outPath)
	}
	return nil
}

// resizeImage resamples img so that its longer and shorter sides match the targets. A zero
// target is derived from the other one and the aspect ratio.
func resizeImage(img image.Image, longerSide, shorterSide int,
	downsample, upsample imaging.ResampleFilter) image.Image {

	b := img.Bounds()
	longer, shorter := b.Dx(), b.Dy()
	portrait := shorter > longer
	if portrait {
		longer, shorter = shorter, longer
	}

	if longerSide <= 0 {
		longerSide = int(math.Round(float64(shorterSide) * float64(longer) / float64(shorter)))
	} else if shorterSide <= 0 {
		shorterSide = int(math.Round(float64(longerSide) * float64(shorter) / float64(longer)))
	}

	filter := upsample
	if longerSide*shorterSide < longer*shorter {
		filter = downsample
	}

	if portrait {
		return imaging.Resize(img, shorterSide, longerSide, filter)
	}
	return imaging.Resize(img, longerSide, shorterSide, filter)
}

// copyFile copies the file at src to dst.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(in, &err)

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer closeWithErrCheck(out, &err)

	_, err = io.Copy(out, in)
	return err
}
