// Converts Label Studio JSON exports to YOLO datasets: boxes, oriented boxes, polygons, pose
// keypoints and segmentation polygons from brush masks.
package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sensorable/yoloconv"
)

var (
	labelFileOrDirPath string   // The Label Studio export file or directory of task files.
	labelConfigPath    string   // The label config XML file.
	imageDirPath       string   // The directory with the task images (optional).
	outDirPaths        []string // The output dataset directories.
	outSplits          []int    // The cumulative split percentages for the output datasets.
	splitSeed          int64    // The random seed for splitting.
	labelMapPath       string   // The label map file to load and update (optional).

	obb           bool   // Write oriented boxes.
	keypointsMode string // One of auto, on, off.

	labelMappings string // A comma-separated string of label mappings.
	filterLabels  string // A comma-separated string of labels to keep (empty keeps all).

	imageOpts yoloconv.ImageOptions

	// Mask contour extraction; OpenCV when built with the gocv tag, else the built-in tracer.
	contourExtractor yoloconv.ContourExtractor

	verbose bool
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintln(os.Stderr, "  -labels <file|dir> -out <dir[,...]> [-label-config <file>]"+
			" [-images <dir>]")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Error(msg...)
		flag.Usage()
		os.Exit(1)
	}

	// Path arguments.
	flag.StringVar(&labelFileOrDirPath, "labels", labelFileOrDirPath,
		"The `path` to the Label Studio JSON export file or a directory of task JSON files")
	flag.StringVar(&labelConfigPath, "label-config", labelConfigPath,
		"The `path` to the project label config XML (required for keypoints)")
	flag.StringVar(&imageDirPath, "images", imageDirPath,
		"The `path` to the image input directory; images are copied to <out>/images when set")
	outPaths := flag.String("out", "",
		"The comma-separated output dataset directories (`path[,...]`); one per value in -split")
	splits := flag.String("split", "100",
		"The comma-separated output split percentages (`percent[,...]`); must add up to 100%")
	flag.Int64Var(&splitSeed, "split-seed", time.Now().UnixNano(),
		"The random `seed` for -split")
	flag.StringVar(&labelMapPath, "label-map", labelMapPath,
		"The label map `path` holding class ids of previous runs; created if missing")

	// Conversion arguments.
	flag.BoolVar(&obb, "obb", obb, "Write oriented bounding boxes (YOLO OBB)")
	flag.StringVar(&keypointsMode, "keypoints", "auto",
		"Pose/segmentation export for keypoint projects {auto, on, off}; auto follows the label config")
	flag.StringVar(&labelMappings, "map-labels", labelMappings,
		"Comma-separated list of old=new label (sub-)string replacements")
	flag.StringVar(&filterLabels, "filter-labels", filterLabels,
		"Comma-separated list of labels to keep (after map-labels; empty string keeps all)")

	// Image processing arguments.
	flag.StringVar(&imageOpts.Encoding, "image-enc", "",
		"The `encoding` for output images {jpg, png}; empty copies the source files")
	flag.IntVar(&imageOpts.LongerSide, "resize-longer", 0,
		"The target `length` for the longer side of the image (zero to keep aspect ratio)")
	flag.IntVar(&imageOpts.ShorterSide, "resize-shorter", 0,
		"The target `length` for the shorter side of the image (zero to keep aspect ratio)")
	flag.StringVar(&imageOpts.DownsamplingFilter, "downsample-filter", "box",
		"The filter to use when downsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.StringVar(&imageOpts.UpsamplingFilter, "upsample-filter", "linear",
		"The filter to use when upsampling an image {nearest, box, linear, gaussian, lanczos}")
	flag.IntVar(&imageOpts.JPEGQuality, "jpeg-quality", 90,
		"The quality to use when encoding JPEGs [1, 100]")

	flag.BoolVar(&verbose, "v", verbose, "Log skipped records")

	// Parse and validate flags.
	flag.Parse()

	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	if labelFileOrDirPath == "" || *outPaths == "" {
		printUsageAndExit("Missing label input or output path argument")
	}
	switch keypointsMode {
	case "auto", "on", "off":
	default:
		printUsageAndExit("Invalid value for -keypoints: ", keypointsMode)
	}
	if keypointsMode == "on" && labelConfigPath == "" {
		printUsageAndExit("Argument -keypoints=on requires -label-config")
	}

	// Validate output split arguments.
	outDirPaths = strings.Split(*outPaths, ",")
	splitValues := strings.Split(*splits, ",")
	if len(splitValues) != len(outDirPaths) {
		printUsageAndExit("The number of output datasets defined by -split and the number of" +
			" paths in -out must match")
	}

	// Parse splits as cumulative int percentages.
	var splitSum int
	for _, v := range splitValues {
		if i, err := strconv.Atoi(v); err != nil || i < 0 || i > 100 {
			printUsageAndExit("Invalid value in -split: ", v)
		} else {
			splitSum += i
			outSplits = append(outSplits, splitSum)
		}
	}
	if splitSum != 100 {
		printUsageAndExit("The values in -split must add up to 100%")
	}

	if imageOpts.JPEGQuality < 1 || imageOpts.JPEGQuality > 100 {
		imageOpts.JPEGQuality = 92
		log.Warn("Invalid JPEG quality, setting it to ", imageOpts.JPEGQuality)
	}

	// Clean path arguments.
	labelFileOrDirPath = filepath.Clean(labelFileOrDirPath)
	for i, v := range outDirPaths {
		outDirPaths[i] = filepath.Clean(v)
		if imageDirPath != "" && filepath.Clean(imageDirPath) == filepath.Join(outDirPaths[i],
			yoloconv.ImagesDir) {
			printUsageAndExit("The image input and output paths cannot be identical")
		}
	}
}

// loadRegistry returns the registry of previous runs from the label map, or a new one.
func loadRegistry() *yoloconv.Registry {
	if labelMapPath == "" {
		return yoloconv.NewRegistry()
	}

	reg, err := yoloconv.LoadLabelMap(labelMapPath)
	if os.IsNotExist(err) {
		log.Info("Creating a new label map")
		return yoloconv.NewRegistry()
	} else if err != nil {
		log.Fatal("Failed to read the label map: ", err)
	}
	log.Infof("Label map with %d categories loaded successfully", reg.Len())
	return reg
}

func main() {
	// Parse input.
	data, err := yoloconv.FromLabelStudio(labelFileOrDirPath)
	if err != nil {
		log.Fatal("Failed to parse the input: ", err)
	}
	tasks := yoloconv.Tasks(data)

	reg := loadRegistry()
	var opts yoloconv.Options
	opts.OBB = obb
	opts.Contours = contourExtractor

	if labelConfigPath != "" {
		text, err := ioutil.ReadFile(labelConfigPath)
		if err != nil {
			log.Fatal("Failed to read the label config: ", err)
		}
		cfg, err := yoloconv.ParseLabelConfig(string(text))
		if err != nil {
			log.Fatal("Failed to parse the label config: ", err)
		}
		yoloconv.SeedRegistry(reg, cfg)

		opts.Keypoints = keypointsMode == "on" || (keypointsMode == "auto" && cfg.HasKeypoints())
		if opts.Keypoints {
			opts.KeypointOrder = cfg.KeypointOrder()
			log.Infof("Exporting keypoints in order %v", opts.KeypointOrder)
		}
	}

	// Map and filter labels.
	if len(labelMappings) > 0 {
		if err := tasks.MapLabels(strings.Split(labelMappings, ",")); err != nil {
			log.Fatal("Failed to map labels: ", err)
		}
	}
	if filterLabels != "" {
		tasks.FilterLabels(strings.Split(filterLabels, ","))
	}

	// Split data into output datasets.
	datasets := []yoloconv.Tasks{tasks}
	if len(outSplits) > 1 {
		if datasets, err = tasks.Split(outSplits, splitSeed); err != nil {
			log.Fatal("Failed to split the dataset: ", err)
		}
	}

	// Write output datasets, in order, with one registry.
	for i, data := range datasets {
		outPath := outDirPaths[i]
		if err := yoloconv.Export(data, outPath, reg, opts); err != nil {
			log.Fatal("Conversion failed: ", err)
		}
		if imageDirPath != "" {
			if err := yoloconv.ProcessImages(data, imageDirPath, outPath, imageOpts); err != nil {
				log.Fatal("Image processing failed: ", err)
			}
		}
		log.Infof("Successfully wrote labels for %d tasks to %s", len(data), outPath)
	}

	// Categories may have been added by later datasets.
	if len(datasets) > 1 {
		for _, outPath := range outDirPaths {
			if err := yoloconv.WriteCategories(outPath, reg); err != nil {
				log.Fatal("Failed to write the categories: ", err)
			}
		}
	}

	if labelMapPath != "" {
		if err := yoloconv.SaveLabelMap(labelMapPath, reg); err != nil {
			log.Fatal("Failed to save the label map: ", err)
		}
	}

	log.Info("Total number of labelled tasks: ", len(tasks))
}
