package main

import (
	"math"
	"testing"
)

func Test_stripQualityPrefix(t *testing.T) {
	tests := []struct {
		name   string
		folder string
		want   string
	}{
		{"With prefix", "72_GOOD_AXIAL_CASE0030", "AXIAL_CASE0030"},
		{"Short prefix", "05_POOR_CASE0030", "CASE0030"},
		{"No prefix", "CASE0030", "CASE0030"},
		{"Underscores but no score", "CASE_0030_16796", "CASE_0030_16796"},
		{"Score only", "72", "72"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripQualityPrefix(tt.folder); got != tt.want {
				t.Errorf("stripQualityPrefix(%s) = %v, want %v", tt.folder, got, tt.want)
			}
		})
	}
}

func Test_isAllDigits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"Digits", "042", true},
		{"Empty", "", false},
		{"Mixed", "4a2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAllDigits(tt.input); got != tt.want {
				t.Errorf("isAllDigits(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func Test_qualityClass(t *testing.T) {
	tests := []struct {
		name        string
		score       int
		orientation string
		want        string
	}{
		{"Axial excellent", 80, "AXIAL", "EXCELLENT"},
		{"Axial good", 65, "AXIAL", "GOOD"},
		{"Axial fair", 45, "AXIAL", "FAIR"},
		{"Axial poor", 10, "AXIAL", "POOR"},
		{"Sagittal lower bar", 71, "SAGITTAL", "EXCELLENT"},
		{"Same score axial is good", 71, "AXIAL", "GOOD"},
		{"Unknown orientation", 66, "UNKNOWN", "EXCELLENT"},
		{"Unlisted falls back", 66, "OBLIQUE", "EXCELLENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qualityClass(tt.score, tt.orientation); got != tt.want {
				t.Errorf("qualityClass(%d, %s) = %v, want %v", tt.score, tt.orientation, got, tt.want)
			}
		})
	}
}

func Test_compositeScoreBounds(t *testing.T) {
	// the score is clamped to 0..100 whatever the metrics are
	for _, orientation := range []string{"AXIAL", "SAGITTAL", "CORONAL", "UNKNOWN"} {
		if got := compositeScore(1e9, 1e9, 1e9, 1, orientation); got > 100 {
			t.Errorf("compositeScore(%s) = %d, want <= 100", orientation, got)
		}
		if got := compositeScore(0, 0, 0, 0, orientation); got != 0 {
			t.Errorf("compositeScore(%s) on zeros = %d, want 0", orientation, got)
		}
	}
}

func Test_flattenFrame(t *testing.T) {
	// a grayscale frame keeps every value
	pixels, err := flattenFrame([]uint16{10, 20, 30, 40}, 2, 2)
	if err != nil {
		t.Fatalf("flattenFrame() error = %v", err)
	}
	want := []float64{10, 20, 30, 40}
	for i := range want {
		if pixels[i] != want[i] {
			t.Errorf("flattenFrame()[%d] = %v, want %v", i, pixels[i], want[i])
		}
	}

	// interleaved multi-sample data keeps the first sample of each pixel
	pixels, err = flattenFrame([]uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, 2, 2)
	if err != nil {
		t.Fatalf("flattenFrame() error = %v", err)
	}
	want = []float64{1, 4, 7, 10}
	for i := range want {
		if pixels[i] != want[i] {
			t.Errorf("flattenFrame()[%d] = %v, want %v", i, pixels[i], want[i])
		}
	}

	if _, err := flattenFrame([]float32{1}, 1, 1); err == nil {
		t.Error("flattenFrame() accepted a non-integer pixel type")
	}
	if _, err := flattenFrame([]int16{1, 2}, 2, 2); err == nil {
		t.Error("flattenFrame() accepted a truncated frame")
	}
}

func Test_symmetryScores(t *testing.T) {
	// a perfectly left-right mirrored image has horizontal symmetry 1
	rows, cols := 4, 4
	pixels := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := float64(j)
			if j >= cols/2 {
				v = float64(cols - 1 - j)
			}
			pixels[i*cols+j] = v + float64(i)
		}
	}
	horizontal, _ := symmetryScores(pixels, rows, cols)
	if math.Abs(horizontal-1.0) > 1e-9 {
		t.Errorf("horizontal symmetry = %v, want 1", horizontal)
	}
}

func Test_laplacianVariance(t *testing.T) {
	// a flat image has no edges
	flat := make([]float64, 8*8)
	if got := laplacianVariance(flat, 8, 8); got != 0 {
		t.Errorf("laplacianVariance(flat) = %v, want 0", got)
	}
	// a checkerboard is all edges
	board := make([]float64, 8*8)
	for i := 0; i < 8; i++ {
		for j := 0; j < 8; j++ {
			if (i+j)%2 == 0 {
				board[i*8+j] = 100
			}
		}
	}
	if got := laplacianVariance(board, 8, 8); got <= 0 {
		t.Errorf("laplacianVariance(checkerboard) = %v, want > 0", got)
	}
}
