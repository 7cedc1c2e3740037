package main

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/classify.yaml
var classifyRules string

// FileRole is the closed set of roles a file in the working directory can
// play. The role is decided once from the filename and carried along, the
// stages never look at the name again.
type FileRole int

const (
	RoleBrainVolume FileRole = iota
	RoleLabelMask
	RoleHemisphereMask
	RoleBinaryMask
	RolePialSurface
	RoleWhiteSurface
	RoleCorticalPlate
	RoleTissueLabels
)

func (r FileRole) String() string {
	switch r {
	case RoleLabelMask:
		return "labels"
	case RoleHemisphereMask:
		return "hemisphere"
	case RoleBinaryMask:
		return "mask"
	case RolePialSurface:
		return "pial"
	case RoleWhiteSurface:
		return "white"
	case RoleCorticalPlate:
		return "cortical_plate"
	case RoleTissueLabels:
		return "tissue_labels"
	}
	return "brain_volume"
}

// InterpolationMode selects how a file is resampled when a transform is
// applied to it. Label-like files have to keep their discrete values.
type InterpolationMode int

const (
	InterpolationLinear InterpolationMode = iota
	InterpolationNearestNeighbor
)

func (m InterpolationMode) String() string {
	if m == InterpolationNearestNeighbor {
		return "NearestNeighbor"
	}
	return "Linear"
}

// Interpolation returns the resampling mode for a role. Everything that
// encodes discrete labels or a binary mask uses nearest-neighbor.
func (r FileRole) Interpolation() InterpolationMode {
	if r == RoleBrainVolume {
		return InterpolationLinear
	}
	return InterpolationNearestNeighbor
}

type classifyMarker struct {
	Marker string `yaml:"marker"`
	Role   string `yaml:"role"`
}

type classifyTable struct {
	Markers []classifyMarker `yaml:"markers"`
}

var roleByName = map[string]FileRole{
	"brain_volume":   RoleBrainVolume,
	"labels":         RoleLabelMask,
	"hemisphere":     RoleHemisphereMask,
	"mask":           RoleBinaryMask,
	"pial":           RolePialSurface,
	"white":          RoleWhiteSurface,
	"cortical_plate": RoleCorticalPlate,
	"tissue_labels":  RoleTissueLabels,
}

// the rules used by classify, replaced if the project carries its own table
var activeClassifyTable classifyTable

func init() {
	t, err := parseClassifyTable([]byte(classifyRules))
	if err != nil {
		// the embedded table has to parse, otherwise the binary is broken
		panic(err)
	}
	activeClassifyTable = t
}

func parseClassifyTable(data []byte) (classifyTable, error) {
	var t classifyTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return classifyTable{}, fmt.Errorf("could not parse classification rules: %v", err)
	}
	for _, m := range t.Markers {
		if _, ok := roleByName[m.Role]; !ok {
			return classifyTable{}, fmt.Errorf("classification rules name an unknown role \"%s\"", m.Role)
		}
	}
	return t, nil
}

// loadClassifyTable replaces the embedded rules with a project specific
// table, .fbp/classify.yaml if the user created one.
func loadClassifyTable(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	t, err := parseClassifyTable(data)
	if err != nil {
		return err
	}
	activeClassifyTable = t
	return nil
}

// classify maps a filename to its role. Pure function of the name, the
// markers are checked in the order they appear in the table and the first
// match wins (case-sensitive, _CP and _cp mean different files). Names
// without any marker are treated as brain volumes.
func classify(filename string) FileRole {
	for _, m := range activeClassifyTable.Markers {
		if strings.Contains(filename, m.Marker) {
			return roleByName[m.Role]
		}
	}
	return RoleBrainVolume
}
