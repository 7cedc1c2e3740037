package main

import (
	"testing"
)

func Test_classify(t *testing.T) {
	// Defining our test cases, filename in, role out
	tests := []struct {
		name     string
		filename string
		want     FileRole
	}{
		{"Plain volume", "brainA.nii.gz", RoleBrainVolume},
		{"Binary mask", "brainA_mask.nii.gz", RoleBinaryMask},
		{"Right hemisphere", "FX41-s1_R_mask.nii.gz", RoleHemisphereMask},
		{"Left hemisphere", "FX41-s1_L_mask.nii.gz", RoleHemisphereMask},
		{"All labels", "FX41-s1_all_labels.nii.gz", RoleLabelMask},
		{"Tissue labels before labels", "FX41-s1_tissue_labels.nii.gz", RoleTissueLabels},
		{"Pial surface", "FX41-s1_pial.nii.gz", RolePialSurface},
		{"White surface", "FX41-s1_white.nii.gz", RoleWhiteSurface},
		{"Cortical plate", "FX41-s1_CP.nii.gz", RoleCorticalPlate},
		{"Case sensitive", "FX41-s1_cp.nii.gz", RoleBrainVolume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.filename)
			if got != tt.want {
				t.Errorf("classify(%s) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func Test_classifyIsPure(t *testing.T) {
	// the same name has to give the same role every time
	for i := 0; i < 3; i++ {
		if got := classify("brainA_mask.nii.gz"); got != RoleBinaryMask {
			t.Errorf("classify() changed its mind on run %d: %v", i, got)
		}
	}
}

func Test_Interpolation(t *testing.T) {
	tests := []struct {
		name string
		role FileRole
		want InterpolationMode
	}{
		{"Brain volume is linear", RoleBrainVolume, InterpolationLinear},
		{"Label mask is nearest", RoleLabelMask, InterpolationNearestNeighbor},
		{"Binary mask is nearest", RoleBinaryMask, InterpolationNearestNeighbor},
		{"Hemisphere is nearest", RoleHemisphereMask, InterpolationNearestNeighbor},
		{"Tissue labels is nearest", RoleTissueLabels, InterpolationNearestNeighbor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Interpolation(); got != tt.want {
				t.Errorf("Interpolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_parseClassifyTable(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"Valid table", "markers:\n  - marker: _mask\n    role: mask\n", false},
		{"Unknown role", "markers:\n  - marker: _mask\n    role: nonsense\n", true},
		{"Broken yaml", "markers: [", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseClassifyTable([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseClassifyTable() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
