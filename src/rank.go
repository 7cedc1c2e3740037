// Code written 2024 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkmik/argsort"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/stat"
)

// qualityResult is the assessment of one study folder, computed from the
// best slice found inside.
type qualityResult struct {
	Folder      string
	Files       int
	Score       int
	Class       string
	Orientation string
	Sharpness   float64
	Contrast    float64
	SNR         float64
	NewName     string
}

// per-orientation scoring weights and class thresholds. Sagittal slices of
// a moving fetus are harder to acquire, their thresholds are lower.
type orientationProfile struct {
	excellent, good, fair      int
	blurWeight, contrastWeight float64
	symmetryWeight             float64
}

var orientationProfiles = map[string]orientationProfile{
	"AXIAL":    {75, 60, 40, 0.3, 0.25, 0.2},
	"SAGITTAL": {70, 55, 35, 0.35, 0.2, 0.15},
	"CORONAL":  {72, 58, 38, 0.25, 0.3, 0.25},
	"UNKNOWN":  {65, 50, 30, 0.4, 0.3, 0.1},
}

// frameToFloats converts one native DICOM frame to a float64 grid.
func frameToFloats(dataset dicom.Dataset) ([]float64, int, int, error) {
	pixelDataElement, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, 0, 0, err
	}
	pixelDataInfo := dicom.MustGetPixelDataInfo(pixelDataElement.Value)
	if len(pixelDataInfo.Frames) == 0 {
		return nil, 0, 0, fmt.Errorf("no image frames")
	}
	// multi-frame series: take the middle frame, the brain is usually there
	fr := pixelDataInfo.Frames[len(pixelDataInfo.Frames)/2]
	native, err := fr.GetNativeFrame()
	if err != nil {
		return nil, 0, 0, err
	}
	rows, cols := native.Rows(), native.Cols()
	pixels, err := flattenFrame(native.RawDataSlice(), rows, cols)
	if err != nil {
		return nil, 0, 0, err
	}
	return pixels, rows, cols, nil
}

// flattenFrame converts the raw pixel slice of a native frame to one
// float64 per pixel. Samples are interleaved when there is more than one
// per pixel, only the first one is kept.
func flattenFrame(raw any, rows, cols int) ([]float64, error) {
	var flat []float64
	switch v := raw.(type) {
	case []int:
		flat = floatsOf(v)
	case []int8:
		flat = floatsOf(v)
	case []int16:
		flat = floatsOf(v)
	case []int32:
		flat = floatsOf(v)
	case []int64:
		flat = floatsOf(v)
	case []uint:
		flat = floatsOf(v)
	case []uint8:
		flat = floatsOf(v)
	case []uint16:
		flat = floatsOf(v)
	case []uint32:
		flat = floatsOf(v)
	case []uint64:
		flat = floatsOf(v)
	default:
		return nil, fmt.Errorf("unsupported pixel type %T", raw)
	}
	n := rows * cols
	if n == 0 || len(flat) < n {
		return nil, fmt.Errorf("frame carries %d samples, want at least %d", len(flat), n)
	}
	step := len(flat) / n
	pixels := make([]float64, n)
	for i := range pixels {
		pixels[i] = flat[i*step]
	}
	return pixels, nil
}

func floatsOf[T int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32 | uint64](v []T) []float64 {
	out := make([]float64, len(v))
	for i, s := range v {
		out[i] = float64(s)
	}
	return out
}

// symmetryScores correlates the left half with the mirrored right half and
// the top half with the mirrored bottom half. High horizontal symmetry is
// the axial signature, low vertical symmetry points at sagittal.
func symmetryScores(pixels []float64, rows, cols int) (float64, float64) {
	half := cols / 2
	left := make([]float64, 0, rows*half)
	right := make([]float64, 0, rows*half)
	for i := 0; i < rows; i++ {
		for j := 0; j < half; j++ {
			left = append(left, pixels[i*cols+j])
			right = append(right, pixels[i*cols+(cols-1-j)])
		}
	}
	horizontal := stat.Correlation(left, right, nil)
	if math.IsNaN(horizontal) {
		horizontal = 0
	}

	vhalf := rows / 2
	top := make([]float64, 0, vhalf*cols)
	bottom := make([]float64, 0, vhalf*cols)
	for i := 0; i < vhalf; i++ {
		for j := 0; j < cols; j++ {
			top = append(top, pixels[i*cols+j])
			bottom = append(bottom, pixels[(rows-1-i)*cols+j])
		}
	}
	vertical := stat.Correlation(top, bottom, nil)
	if math.IsNaN(vertical) {
		vertical = 0
	}
	return horizontal, vertical
}

// laplacianVariance is the usual focus measure, the variance of the 4-way
// Laplacian response over the inner pixels.
func laplacianVariance(pixels []float64, rows, cols int) float64 {
	if rows < 3 || cols < 3 {
		return 0
	}
	resp := make([]float64, 0, (rows-2)*(cols-2))
	for i := 1; i < rows-1; i++ {
		for j := 1; j < cols-1; j++ {
			v := 4*pixels[i*cols+j] - pixels[(i-1)*cols+j] - pixels[(i+1)*cols+j] -
				pixels[i*cols+j-1] - pixels[i*cols+j+1]
			resp = append(resp, v)
		}
	}
	return stat.Variance(resp, nil)
}

// borderNoise estimates the noise level from the image border where we do
// not expect anatomy, used for the SNR.
func borderNoise(pixels []float64, rows, cols int) float64 {
	bw := rows / 10
	if cols/10 < bw {
		bw = cols / 10
	}
	if bw < 1 {
		bw = 1
	}
	var border []float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if i < bw || i >= rows-bw || j < bw || j >= cols-bw {
				border = append(border, pixels[i*cols+j])
			}
		}
	}
	return stat.StdDev(border, nil)
}

// detectOrientation guesses the slice orientation of the fetal brain from
// symmetry and shape. Returns AXIAL, SAGITTAL, CORONAL or UNKNOWN.
func detectOrientation(pixels []float64, rows, cols int) string {
	if rows == 0 || cols == 0 {
		return "UNKNOWN"
	}
	horizontal, vertical := symmetryScores(pixels, rows, cols)
	aspect := float64(cols) / float64(rows)
	contrast := stat.StdDev(pixels, nil)

	scores := map[string]float64{"AXIAL": 0, "SAGITTAL": 0, "CORONAL": 0}
	if horizontal > 0.5 {
		scores["AXIAL"] += 3.0
	}
	if aspect >= 0.8 && aspect <= 1.3 {
		scores["AXIAL"] += 2.0
	}
	if contrast > 20 {
		scores["AXIAL"] += 1.0
	}
	if vertical < 0.3 {
		scores["SAGITTAL"] += 2.0
	}
	if aspect >= 0.6 && aspect <= 1.0 {
		scores["SAGITTAL"] += 2.0
	}
	if vertical > 0.4 {
		scores["CORONAL"] += 2.0
	}
	if aspect >= 0.9 && aspect <= 1.4 {
		scores["CORONAL"] += 1.5
	}
	if horizontal > 0.3 {
		scores["CORONAL"] += 1.5
	}

	best, bestScore := "UNKNOWN", 0.0
	for _, o := range []string{"AXIAL", "SAGITTAL", "CORONAL"} {
		if scores[o] > bestScore {
			best, bestScore = o, scores[o]
		}
	}
	if bestScore < 2.0 {
		return "UNKNOWN"
	}
	return best
}

// compositeScore folds sharpness, contrast and SNR into one 0..100 number
// with the weights of the detected orientation.
func compositeScore(sharpness, contrast, snr, symmetry float64, orientation string) int {
	p := orientationProfiles[orientation]
	sharpnessNorm := math.Min(sharpness/150, 1.0)
	contrastNorm := math.Min(contrast/60, 1.0)
	snrNorm := math.Min(snr/10, 1.0)
	snrWeight := 1 - p.blurWeight - p.contrastWeight - p.symmetryWeight
	score := p.blurWeight*sharpnessNorm + p.contrastWeight*contrastNorm +
		snrWeight*snrNorm + p.symmetryWeight*math.Max(0, symmetry)
	return int(math.Min(score*100, 100))
}

func qualityClass(score int, orientation string) string {
	p, ok := orientationProfiles[orientation]
	if !ok {
		p = orientationProfiles["UNKNOWN"]
	}
	switch {
	case score >= p.excellent:
		return "EXCELLENT"
	case score >= p.good:
		return "GOOD"
	case score >= p.fair:
		return "FAIR"
	default:
		return "POOR"
	}
}

// analyzeDICOM scores one file and reports the metrics that go into the
// CSV summary.
func analyzeDICOM(path string) (int, string, float64, float64, float64, error) {
	dataset, err := dicom.ParseFile(path, nil) // See also: dicom.Parse which has a generic io.Reader API.
	if err != nil {
		return 0, "UNKNOWN", 0, 0, 0, err
	}
	pixels, rows, cols, err := frameToFloats(dataset)
	if err != nil {
		return 0, "UNKNOWN", 0, 0, 0, err
	}
	orientation := detectOrientation(pixels, rows, cols)
	horizontal, _ := symmetryScores(pixels, rows, cols)
	sharpness := laplacianVariance(pixels, rows, cols)
	contrast := stat.StdDev(pixels, nil)
	noise := borderNoise(pixels, rows, cols)
	snr := stat.Mean(pixels, nil) / (noise + 1e-10)
	score := compositeScore(sharpness, contrast, snr, horizontal, orientation)
	return score, orientation, sharpness, contrast, snr, nil
}

// analyzeFolder scores every DICOM file of one study folder and keeps the
// best slice as the folder's quality.
func analyzeFolder(folder string) (qualityResult, error) {
	res := qualityResult{Folder: folder, Orientation: "UNKNOWN"}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			continue
		}
		score, orientation, sharpness, contrast, snr, err := analyzeDICOM(filepath.Join(folder, e.Name()))
		if err != nil {
			continue
		}
		res.Files++
		if score >= res.Score {
			res.Score = score
			res.Orientation = orientation
			res.Sharpness = sharpness
			res.Contrast = contrast
			res.SNR = snr
		}
	}
	if res.Files == 0 {
		return res, fmt.Errorf("no readable DICOM files in %s", folder)
	}
	res.Class = qualityClass(res.Score, res.Orientation)
	return res, nil
}

// stripQualityPrefix removes a score_class_... prefix that an earlier rank
// run put in front of the folder name.
func stripQualityPrefix(name string) string {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) == 3 && isAllDigits(parts[0]) {
		return parts[2]
	}
	return name
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// rankFolders scores every study folder under master and renames each to
// <score>_<class>_<orientation>_<name> so a directory listing sorts by
// quality. A summary CSV is written next to the folders. With dryRun the
// new names are only printed.
func rankFolders(master string, dryRun bool, out io.Writer) error {
	entries, err := os.ReadDir(master)
	if err != nil {
		return err
	}
	var results []qualityResult
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		res, err := analyzeFolder(filepath.Join(master, e.Name()))
		if err != nil {
			fmt.Fprintf(out, "skipping %s: %v\n", e.Name(), err)
			continue
		}
		original := stripQualityPrefix(e.Name())
		res.NewName = fmt.Sprintf("%02d_%s_%s_%s", res.Score, res.Class, res.Orientation, original)
		results = append(results, res)
	}
	if len(results) == 0 {
		return fmt.Errorf("no study folders with DICOM files found in %s", master)
	}

	// best folders first
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = float64(r.Score)
	}
	order := argsort.SortSlice(scores, func(i, j int) bool { return scores[i] > scores[j] })

	langFmt := message.NewPrinter(language.English)
	for _, idx := range order {
		r := results[idx]
		fmt.Fprintf(out, "%3d/100 %-9s %-8s %s -> %s\n", r.Score, r.Class, r.Orientation,
			filepath.Base(r.Folder), r.NewName)
		if dryRun {
			continue
		}
		newPath := filepath.Join(master, r.NewName)
		if newPath == r.Folder {
			continue
		}
		if err := os.Rename(r.Folder, newPath); err != nil {
			fmt.Fprintf(out, "Warning: could not rename %s: %v\n", r.Folder, err)
		}
	}
	langFmt.Fprintf(out, "ranked %d folders, %d DICOM files\n", len(results), totalFiles(results))

	if !dryRun {
		if err := writeRankCSV(filepath.Join(master, "quality_ranking.csv"), results, order); err != nil {
			fmt.Fprintf(out, "Warning: could not write the summary CSV: %v\n", err)
		}
	}
	return nil
}

func totalFiles(results []qualityResult) int {
	n := 0
	for _, r := range results {
		n += r.Files
	}
	return n
}

func writeRankCSV(path string, results []qualityResult, order []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"folder", "files", "score", "class", "orientation",
		"sharpness", "contrast", "snr"}); err != nil {
		return err
	}
	for _, idx := range order {
		r := results[idx]
		rec := []string{
			filepath.Base(r.Folder),
			fmt.Sprintf("%d", r.Files),
			fmt.Sprintf("%d", r.Score),
			r.Class,
			r.Orientation,
			fmt.Sprintf("%.2f", r.Sharpness),
			fmt.Sprintf("%.2f", r.Contrast),
			fmt.Sprintf("%.2f", r.SNR),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// renameFolders strips the quality prefixes again, the inverse of
// rankFolders.
func renameFolders(master string, dryRun bool, out io.Writer) error {
	entries, err := os.ReadDir(master)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	count := 0
	for _, name := range names {
		original := stripQualityPrefix(name)
		if original == name {
			continue
		}
		fmt.Fprintf(out, "%s -> %s\n", name, original)
		count++
		if dryRun {
			continue
		}
		if err := os.Rename(filepath.Join(master, name), filepath.Join(master, original)); err != nil {
			fmt.Fprintf(out, "Warning: could not rename %s: %v\n", name, err)
		}
	}
	if count == 0 {
		fmt.Fprintln(out, "nothing to rename, no folder carries a quality prefix")
	}
	return nil
}
