package main

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// StatusTUI shows the stages of the current project with their state and a
// preview of the volumes in the working directory. Selecting a volume in
// the tree renders it as ASCII art in the viewer.
type StatusTUI struct {
	run          *PipelineRun
	viewer       *tview.TextView
	summary      *tview.TextView
	selection    *tview.TreeView
	app          *tview.Application
	flex         *tview.Flex
	stageNodes   []*tview.TreeNode
	stopRefresh  bool
	lastSelected string
}

func (statusTUI *StatusTUI) Init() {
	newPrimitive := func(text string) *tview.TextView {
		return tview.NewTextView().
			SetTextAlign(tview.AlignLeft).
			SetText(text)
	}
	statusTUI.summary = newPrimitive("")
	statusTUI.summary.SetBorder(true).SetTitle("Current selection")
	statusTUI.viewer = newPrimitive("").SetDynamicColors(true)
	statusTUI.viewer.SetBorder(true).SetTitle("Volume")
	statusTUI.selection = tview.NewTreeView()
	statusTUI.selection.SetBorder(true)
	statusTUI.selection.SetTitle("Project")

	statusTUI.flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(statusTUI.summary, 30, 1, false).
			AddItem(statusTUI.viewer, 0, 1, true), 0, 1, false).
		AddItem(statusTUI.selection, 12, 1, false)

	root := tview.NewTreeNode(statusTUI.run.Subject.String()).SetReference("")
	statusTUI.selection.SetRoot(root).SetCurrentNode(root)

	stages := tview.NewTreeNode("Stages").SetSelectable(false)
	root.AddChild(stages)
	statusTUI.stageNodes = nil
	for idx, stage := range statusTUI.run.Stages {
		node := tview.NewTreeNode(stageNodeText(statusTUI.run, idx, stage)).
			SetReference("stage:" + stage.Name).
			SetSelectable(true)
		stages.AddChild(node)
		statusTUI.stageNodes = append(statusTUI.stageNodes, node)
	}

	volumes := tview.NewTreeNode("Volumes").SetSelectable(false)
	root.AddChild(volumes)
	matches, _ := filepath.Glob(filepath.Join(statusTUI.run.WorkDir, "*.nii.gz"))
	sort.Strings(matches)
	for _, m := range matches {
		base := filepath.Base(m)
		node := tview.NewTreeNode(fmt.Sprintf("%s [blue]%s", base, classify(base))).
			SetReference(m).
			SetSelectable(true)
		volumes.AddChild(node)
	}

	statusTUI.selection.SetSelectedFunc(func(node *tview.TreeNode) {
		reference := node.GetReference().(string)
		if len(reference) == 0 {
			return
		}
		if statusTUI.lastSelected == reference {
			statusTUI.stopRefresh = true
			statusTUI.lastSelected = ""
			return
		}
		statusTUI.stopRefresh = false
		statusTUI.lastSelected = reference

		if name, ok := stageReference(reference); ok {
			statusTUI.showStage(name)
			return
		}
		statusTUI.showVolume(reference)
	})

	statusTUI.Run()
}

func stageReference(reference string) (string, bool) {
	if len(reference) > 6 && reference[:6] == "stage:" {
		return reference[6:], true
	}
	return "", false
}

func stageNodeText(run *PipelineRun, idx int, stage Stage) string {
	state := stageState(run, stage)
	color := "[gray]"
	if state == "done" {
		color = "[green]"
	}
	return fmt.Sprintf("%d/%d %s %s%s", idx+1, len(run.Stages), stage.Name, color, state)
}

func (statusTUI *StatusTUI) showStage(name string) {
	for _, stage := range statusTUI.run.Stages {
		if stage.Name != name {
			continue
		}
		tool := statusTUI.run.Tools[stage.Tool]
		statusTUI.summary.Clear()
		fmt.Fprintf(statusTUI.summary, "%s\n\ntool: %s\nstate: %s\n",
			stage.Name, tool.commandName(), stageState(statusTUI.run, stage))
		if len(stage.Inputs) > 0 {
			fmt.Fprintf(statusTUI.summary, "inputs:\n")
			for _, in := range stage.Inputs {
				fmt.Fprintf(statusTUI.summary, "  %s\n", expandTemplate(in, statusTUI.run, "", InterpolationLinear, ""))
			}
		}
		if stage.Output != "" {
			fmt.Fprintf(statusTUI.summary, "output:\n  %s\n", expandTemplate(stage.Output, statusTUI.run, "", InterpolationLinear, ""))
		}
	}
}

func (statusTUI *StatusTUI) showVolume(path string) {
	statusTUI.viewer.Clear()
	var buf bytes.Buffer
	if err := previewVolume(path, &buf); err != nil {
		fmt.Fprintf(statusTUI.viewer, "Could not show %s: %v\n", path, err)
		return
	}
	fmt.Fprintf(statusTUI.viewer, "%s", buf.String())
	statusTUI.summary.Clear()
	base := filepath.Base(path)
	role := classify(base)
	summary, err := niftiSummary(path)
	if err == nil {
		fmt.Fprintf(statusTUI.summary, "%s\n\n%s\nrole: %s\ninterpolation: %s\n",
			base, summary, role, role.Interpolation())
	}
	if statusTUI.app != nil {
		statusTUI.viewer.SetTitle(fmt.Sprintf("Volume %s", base))
	}
}

func doEvery(d time.Duration, statusTUI *StatusTUI, f func(*StatusTUI, time.Time)) {
	for x := range time.Tick(d) {
		f(statusTUI, x)
	}
}

// refreshStages updates the stage states, a pipeline might be running in
// another terminal and we want to see its outputs appear.
func refreshStages(statusTUI *StatusTUI, t time.Time) {
	if statusTUI.stopRefresh {
		return
	}
	for idx, stage := range statusTUI.run.Stages {
		if idx < len(statusTUI.stageNodes) {
			statusTUI.stageNodes[idx].SetText(stageNodeText(statusTUI.run, idx, stage))
		}
	}
	if statusTUI.app != nil {
		statusTUI.app.Draw()
	}
}

func (statusTUI *StatusTUI) Run() {
	statusTUI.stopRefresh = false
	go doEvery(2*time.Second, statusTUI, refreshStages)

	statusTUI.app = tview.NewApplication()

	statusTUI.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		k := event.Key()
		if k == tcell.KeyRune {
			ch := event.Rune()
			if ch == rune('c') {
				statusTUI.stopRefresh = !statusTUI.stopRefresh
			}
			if ch == rune('q') {
				statusTUI.app.Stop()
			}
		}
		return event
	})

	if err := statusTUI.app.SetRoot(statusTUI.flex, true).SetFocus(statusTUI.selection).EnableMouse(true).Run(); err != nil {
		fmt.Println("Error: The --tui mode is only available in a propper terminal.")
		panic(err)
	}
	defer statusTUI.app.Stop()
}

func (statusTUI StatusTUI) Stop() {
	statusTUI.app.Stop()
}
