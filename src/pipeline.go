// Code written 2024 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/stages.yaml
var defaultStages string

// MissingInputError is raised before a stage starts when one of its
// required files is not in the working directory. No process is spawned
// in that case.
type MissingInputError struct {
	Stage string
	Path  string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("stage %s: required input %s does not exist", e.Stage, e.Path)
}

// StageOutputMissingError is raised when the external tool exited with 0
// but the output the stage declared never appeared.
type StageOutputMissingError struct {
	Stage string
	Path  string
}

func (e *StageOutputMissingError) Error() string {
	return fmt.Sprintf("stage %s: tool finished but the declared output %s does not exist", e.Stage, e.Path)
}

// ToolInvocationError wraps a non-zero exit of an external tool. The
// command line and captured stderr are kept for the diagnostic.
type ToolInvocationError struct {
	Stage  string
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolInvocationError) Error() string {
	msg := fmt.Sprintf("stage %s: %s %s failed (%v)", e.Stage, e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += "\n" + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// InvalidParameterError reports a run parameter that was supplied on the
// command line and failed validation.
type InvalidParameterError struct {
	Name   string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid value \"%s\" for %s: %s", e.Value, e.Name, e.Reason)
}

// Stage is one external tool invocation with its file contract. Inputs
// have to exist before the tool runs, Output has to exist afterwards.
// PerFile stages run once per file of the working set instead.
type Stage struct {
	Name         string   `yaml:"name"`
	Tool         string   `yaml:"tool"`
	Args         []string `yaml:"args"`
	Inputs       []string `yaml:"inputs"`
	Output       string   `yaml:"output"`
	PerFile      bool     `yaml:"per_file"`
	OutputSuffix string   `yaml:"output_suffix"`
	When         []string `yaml:"when"`
}

type stageFile struct {
	Tools  []ToolSpec `yaml:"tools"`
	Stages []Stage    `yaml:"stages"`
}

// PipelineRun binds everything one execution needs. Created at run start,
// gone when the process exits; the only persistent state is the working
// directory itself.
type PipelineRun struct {
	Params  RunParams
	Subject SubjectID
	WorkDir string
	Stages  []Stage
	Tools   map[string]ToolSpec
	Sudo    *sudoSession
	Test    bool
}

// loadStageFile parses the embedded stage definitions, or the project
// override from .fbp/stages.yaml if one exists.
func loadStageFile(projectDir string) (stageFile, error) {
	data := []byte(defaultStages)
	override := filepath.Join(projectDir, ".fbp", "stages.yaml")
	if _, err := os.Stat(override); err == nil {
		data, err = os.ReadFile(override)
		if err != nil {
			return stageFile{}, fmt.Errorf("could not read %s: %v", override, err)
		}
	}
	var sf stageFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return stageFile{}, fmt.Errorf("could not parse stage definitions: %v", err)
	}
	return sf, nil
}

func (sf stageFile) toolMap() map[string]ToolSpec {
	tools := make(map[string]ToolSpec)
	for _, t := range sf.Tools {
		tools[t.Name] = t
	}
	return tools
}

// selectStages fixes the stage list for a run. A stage takes part when all
// of its "when" selectors are active; the active selectors are the
// processing mode and the extraction variant. The branch decision happens
// here, once, before anything runs.
func selectStages(all []Stage, p RunParams) []Stage {
	active := map[string]bool{p.Mode: true}
	if p.Extraction != "" {
		active[p.Extraction] = true
	}
	var stages []Stage
	for _, s := range all {
		wanted := true
		for _, w := range s.When {
			if !active[w] {
				wanted = false
				break
			}
		}
		if wanted {
			stages = append(stages, s)
		}
	}
	return stages
}

// expandTemplate substitutes the run placeholders in a stage argument.
func expandTemplate(s string, run *PipelineRun, file string, interp InterpolationMode, output string) string {
	r := strings.NewReplacer(
		"{subject}", run.Subject.Subject,
		"{session}", run.Subject.Session,
		"{id}", run.Subject.String(),
		"{age}", fmt.Sprintf("%d", run.Params.GestationalAge),
		"{input}", run.Params.InputFile,
		"{transform}", run.Params.TransformFile,
		"{file}", file,
		"{interp}", interp.String(),
		"{output}", output,
		"{workdir}", run.WorkDir,
	)
	return r.Replace(s)
}

func expandArgs(args []string, run *PipelineRun, file string, interp InterpolationMode, output string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = expandTemplate(a, run, file, interp, output)
	}
	return out
}

// perFileOutput derives the declared output of one file of a per-file
// stage, srr-style suffix insertion before the .nii.gz extension.
func perFileOutput(file, suffix string) string {
	if suffix == "" {
		return file
	}
	if strings.HasSuffix(file, ".nii.gz") {
		return strings.TrimSuffix(file, ".nii.gz") + suffix + ".nii.gz"
	}
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + suffix + ext
}

// runStage executes a single stage against the run: check inputs, invoke
// the tool, check the declared output. Any error is fatal for the run.
func runStage(run *PipelineRun, stage Stage) error {
	tool, ok := run.Tools[stage.Tool]
	if !ok {
		return fmt.Errorf("stage %s names an unknown tool \"%s\"", stage.Name, stage.Tool)
	}

	for _, in := range stage.Inputs {
		p := expandTemplate(in, run, "", InterpolationLinear, "")
		if p == "" {
			// a placeholder like {input} with nothing behind it, Stat on
			// the empty path would pass as the working directory itself
			return &MissingInputError{Stage: stage.Name, Path: in}
		}
		if _, err := os.Stat(filepath.Join(run.WorkDir, p)); os.IsNotExist(err) {
			return &MissingInputError{Stage: stage.Name, Path: p}
		}
	}

	if stage.PerFile {
		files, err := workingSet(run.WorkDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			role := classify(f)
			output := perFileOutput(f, stage.OutputSuffix)
			args := expandArgs(stage.Args, run, f, role.Interpolation(), output)
			if run.Test {
				fmt.Printf("stage %s (%s, %s): %s %s\n", stage.Name, f, role, tool.commandName(), strings.Join(args, " "))
				continue
			}
			if err := invokeTool(tool, args, run.WorkDir, run.Sudo); err != nil {
				return wrapToolError(err, stage)
			}
			if stage.OutputSuffix != "" {
				if _, err := os.Stat(filepath.Join(run.WorkDir, output)); os.IsNotExist(err) {
					return &StageOutputMissingError{Stage: stage.Name, Path: output}
				}
			}
		}
		return nil
	}

	args := expandArgs(stage.Args, run, "", InterpolationLinear, "")
	if run.Test {
		fmt.Printf("stage %s: %s %s\n", stage.Name, tool.commandName(), strings.Join(args, " "))
		return nil
	}
	if err := invokeTool(tool, args, run.WorkDir, run.Sudo); err != nil {
		return wrapToolError(err, stage)
	}
	if stage.Output != "" {
		p := expandTemplate(stage.Output, run, "", InterpolationLinear, "")
		if _, err := os.Stat(filepath.Join(run.WorkDir, p)); os.IsNotExist(err) {
			return &StageOutputMissingError{Stage: stage.Name, Path: p}
		}
	}
	return nil
}

func wrapToolError(err error, stage Stage) error {
	if te, ok := err.(*ToolInvocationError); ok {
		te.Stage = stage.Name
		return te
	}
	return err
}

// runPipeline drives the stages strictly in order, one external process at
// a time, and stops at the first failure. Outputs of completed stages stay
// on disk for inspection or a manual restart.
func runPipeline(run *PipelineRun) error {
	for i, stage := range run.Stages {
		fmt.Printf("[%d/%d] %s\n", i+1, len(run.Stages), stage.Name)
		if err := runStage(run, stage); err != nil {
			return err
		}
	}
	return nil
}

// stageState reports whether the declared output of a stage already exists
// in the working directory, used by status and the TUI.
func stageState(run *PipelineRun, stage Stage) string {
	if stage.Output == "" {
		return "no declared output"
	}
	p := expandTemplate(stage.Output, run, "", InterpolationLinear, "")
	if _, err := os.Stat(filepath.Join(run.WorkDir, p)); err == nil {
		return "done"
	}
	return "pending"
}
