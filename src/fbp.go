// Code written 2024 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const version string = "0.0.2"

// The string below will be replaced during build time using
// -ldflags "-X main.compileDate=`date -u +.%Y%m%d.%H%M%S"`"
var compileDate string = ".unknown"

var own_name string = "fbp"

var input_dir string = "."

//go:embed templates/README.md
var readme string

func exitGracefully(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func check(e error) {
	if e != nil {
		exitGracefully(e)
	}
}

// Config is the persistent project state in .fbp/config. Values set here
// become the defaults for run, flags still win.
type Config struct {
	Date           string
	ProjectName    string
	SubjectID      string
	Session        string
	GestationalAge int
	Mode           string
	Extraction     string
	AtlasDir       string
	LastRun        string
}

// readConfig parses a provided config file as JSON. The config carries no
// secrets but a world-readable file is still worth a warning.
func readConfig(path_string string) (Config, error) {
	if _, err := os.Stat(path_string); err != nil && os.IsNotExist(err) {
		return Config{}, fmt.Errorf("file %s does not exist", path_string)
	}
	if fileInfo, err := os.Stat(path_string); err == nil {
		mode := fileInfo.Mode()
		mode_str := fmt.Sprintf("%s", mode)
		if mode_str != "-rw-------" {
			fmt.Println("Warning: Your config file is not secure. Change the permissions by 'chmod 0600 .fbp/config'. Now: ", mode)
		}
	}

	byteValue, err := os.ReadFile(path_string)
	if err != nil {
		return Config{}, fmt.Errorf("could not open the file %s", path_string)
	}
	var config Config
	json.Unmarshal(byteValue, &config)
	return config, nil
}

func (config Config) writeConfig(projectDir string) bool {
	file, _ := json.MarshalIndent(config, "", " ")
	if err := os.WriteFile(filepath.Join(projectDir, ".fbp", "config"), file, 0600); err != nil {
		return false
	}
	return true
}

// createStub writes a template file, existing files are never overwritten.
func createStub(p string, str string) {
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		fmt.Println("This directory already contains an " + filepath.Base(p) + ", don't overwrite. Skip writing...")
	} else {
		err := os.MkdirAll(filepath.Dir(p), 0777)
		if err != nil {
			fmt.Println("Error creating the required directories for ", filepath.Dir(p))
		}
		f, err := os.Create(p)
		check(err)
		_, err = f.WriteString(str)
		check(err)
		f.Sync()
	}
}

// askForPassword reads the sudo password without echo. The value goes to
// sudo -S -v once and is dropped, it is never logged or written anywhere.
func askForPassword() (string, error) {
	fmt.Printf("Some stages run containers that need sudo.\nPassword: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println("")
	if err != nil {
		return "", fmt.Errorf("could not read the password: %v", err)
	}
	return string(pw), nil
}

// buildRun assembles a PipelineRun for the given working directory, with
// the parameters already collected and validated.
func buildRun(workdir string, p RunParams, testOnly bool) (*PipelineRun, error) {
	sf, err := loadStageFile(workdir)
	if err != nil {
		return nil, err
	}
	subject := SubjectID{Subject: p.SubjectID, Session: p.Session}
	run := &PipelineRun{
		Params:  p,
		Subject: subject,
		WorkDir: workdir,
		Stages:  selectStages(sf.Stages, p),
		Tools:   sf.toolMap(),
		Test:    testOnly,
	}
	return run, nil
}

func main() {

	log.SetLevel(log.WarnLevel)

	const (
		errorConfigFile = "the current directory is not an fbp directory. Change to the correct directory first or create a new folder by running\n\n\tfbp init project01\n "
	)

	initCommand := flag.NewFlagSet("init", flag.ContinueOnError)
	configCommand := flag.NewFlagSet("config", flag.ContinueOnError)
	statusCommand := flag.NewFlagSet("status", flag.ContinueOnError)
	runCommand := flag.NewFlagSet("run", flag.ContinueOnError)
	rankCommand := flag.NewFlagSet("rank", flag.ContinueOnError)
	renameCommand := flag.NewFlagSet("rename", flag.ContinueOnError)
	previewCommand := flag.NewFlagSet("preview", flag.ContinueOnError)
	mcpCommand := flag.NewFlagSet("mcp", flag.ContinueOnError)

	var init_help bool
	initCommand.BoolVar(&init_help, "help", false, "Show help for init.")

	var subject_id string
	configCommand.StringVar(&subject_id, "i", "", "The subject identifier, FX41 style. If not set the run derives it\nfrom the files in the working directory.")
	runCommand.StringVar(&subject_id, "i", "", "The subject identifier for this run. Overrides the config and the\nidentifier derived from the working directory.")
	var session string
	configCommand.StringVar(&session, "s", "", "The session token, s1 style.")
	runCommand.StringVar(&session, "s", "", "The session token for this run.")
	var gestational_age int
	configCommand.IntVar(&gestational_age, "a", 0, "The gestational age in weeks at the time of the scan. Selects the\nage matched atlas for the registration.")
	runCommand.IntVar(&gestational_age, "a", 0, "The gestational age in weeks for this run.")
	var mode_string string
	configCommand.StringVar(&mode_string, "mode", "", "The processing mode, \"postnatal\" or \"inutero\".")
	runCommand.StringVar(&mode_string, "mode", "", "The processing mode for this run, \"postnatal\" or \"inutero\".")
	var extraction_string string
	configCommand.StringVar(&extraction_string, "extraction", "", "The brain extraction variant for postnatal scans, \"monai\" or \"fsl\".")
	runCommand.StringVar(&extraction_string, "extraction", "", "The brain extraction variant for this run, \"monai\" or \"fsl\".")
	var atlas_dir string
	configCommand.StringVar(&atlas_dir, "atlas", "", "Path to the folder with the age matched t2w_GA*_tissue.nii.gz atlas\nvolumes.")
	var config_help bool
	configCommand.BoolVar(&config_help, "help", false, "Print help for config.")

	var input_file string
	runCommand.StringVar(&input_file, "f", "", "The input volume, the reconstructed or motion corrected stack. Asked\nfor interactively when not set.")
	var transform_file string
	runCommand.StringVar(&transform_file, "t", "", "An existing transform to apply instead of computing a new\nregistration.")
	var run_test bool
	runCommand.BoolVar(&run_test, "test", false, "Don't actually run anything, just show what you would do.")
	var run_verbose bool
	runCommand.BoolVar(&run_verbose, "verbose", false, "Print debug messages for each external tool call.")
	var run_help bool
	runCommand.BoolVar(&run_help, "help", false, "Show help for run.")

	var status_tui bool
	statusCommand.BoolVar(&status_tui, "tui", false, "Show an interactive text user interface with the stage states and\na preview of the volumes.")
	var status_help bool
	statusCommand.BoolVar(&status_help, "help", false, "Show help for status.")

	var rank_test bool
	rankCommand.BoolVar(&rank_test, "test", false, "Don't rename anything, just show the scores.")
	var rank_help bool
	rankCommand.BoolVar(&rank_help, "help", false, "Show help for rank.")

	var rename_test bool
	renameCommand.BoolVar(&rename_test, "test", false, "Don't rename anything, just show what would change.")
	var rename_help bool
	renameCommand.BoolVar(&rename_help, "help", false, "Show help for rename.")

	var preview_help bool
	previewCommand.BoolVar(&preview_help, "help", false, "Show help for preview.")

	var mcp_http string
	mcpCommand.StringVar(&mcp_http, "http", "", "Serve the MCP protocol over streamable HTTP at the given address\ninstead of stdin/stdout, for example \"localhost:8080\".")
	var mcp_help bool
	mcpCommand.BoolVar(&mcp_help, "help", false, "Show help for mcp.")

	own_name = os.Args[0]
	flag.Usage = func() {
		fmt.Printf("fbp - Fetal Brain Pipelines\n")
		fmt.Printf("Version: %s%s\n", version, compileDate)
		fmt.Println(" A tool to run fetal and neonatal brain MRI preprocessing pipelines. The")
		fmt.Println(" program chains the external tools (reorientation, brain extraction,")
		fmt.Printf(" registration, reconstruction, surface generation) for one scan session.\n\n")
		fmt.Printf("Usage: %s [init|config|status|run|rank|rename|preview|mcp] [options]\n\tStart with init to create a new project folder:\n\n\t%s init <project>\n\n", os.Args[0], os.Args[0])
		fmt.Printf("Option init:\n  Create a new pipeline project.\n\n")
		initCommand.PrintDefaults()
		fmt.Printf("\nOption config:\n  Change the current settings of your project.\n\n")
		configCommand.PrintDefaults()
		fmt.Printf("\nOption status:\n  List the settings and the stage states of your project.\n\n")
		statusCommand.PrintDefaults()
		fmt.Printf("\nOption run:\n  Run the preprocessing pipeline in the project folder.\n\n")
		runCommand.PrintDefaults()
		fmt.Printf("\nOption rank:\n  Score the DICOM study folders under a directory by image quality and\n  rename them so a listing sorts best first.\n\n")
		rankCommand.PrintDefaults()
		fmt.Printf("\nOption rename:\n  Remove the quality prefixes that rank added to the folder names.\n\n")
		renameCommand.PrintDefaults()
		fmt.Printf("\nOption preview:\n  Show a volume as ASCII art on the command line.\n\n")
		previewCommand.PrintDefaults()
		fmt.Printf("\nOption mcp:\n  Start a model context protocol server for this project.\n\n")
		mcpCommand.PrintDefaults()
		fmt.Println("")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(-1)
	}

	switch os.Args[1] {
	case "init":
		if len(os.Args[2:]) == 0 {
			initCommand.PrintDefaults()
			return
		}
		if err := initCommand.Parse(os.Args[2:]); err == nil {
			if init_help {
				initCommand.PrintDefaults()
				return
			}
			values := initCommand.Args()
			if len(values) != 1 {
				exitGracefully(errors.New("we need a single path entry specified"))
			} else {
				input_dir = initCommand.Arg(0)
			}

			dir_path := input_dir + "/.fbp"
			if _, err := os.Stat(dir_path); !os.IsNotExist(err) {
				exitGracefully(errors.New("this directory has already been initialized. Delete the .fbp directory to do this again"))
			}
			if _, err := os.Stat(input_dir); os.IsNotExist(err) {
				if err := os.Mkdir(input_dir, 0755); os.IsExist(err) {
					exitGracefully(errors.New("directory exist already"))
				}
			}
			if err := os.Mkdir(dir_path, 0700); os.IsExist(err) {
				exitGracefully(errors.New("directory already exists"))
			}
			data := Config{
				Date:        time.Now().String(),
				ProjectName: path.Base(input_dir),
				Session:     "s1",
			}
			if !data.writeConfig(input_dir) {
				exitGracefully(errors.New("could not write the config file"))
			}

			readme_path := filepath.Join(input_dir, "README.md")
			createStub(readme_path, readme)
			// stage definitions and classification rules so the user can
			// overwrite what fbp does on its own
			createStub(filepath.Join(dir_path, "stages.yaml"), defaultStages)
			createStub(filepath.Join(dir_path, "classify.yaml"), classifyRules)

			fmt.Printf("\nInit new project folder \"%s\" done.\n", input_dir)
			fmt.Printf("Copy your volumes into the folder and start a run\n\n\tcd \"%s\"\n\t%s run\n\n", input_dir, own_name)
			fmt.Println("The subject identifier and gestational age are asked for interactively,\n" +
				"or you store them once with\n\n\t" + own_name + " config -i FX41 -a 28 -mode postnatal")
		}
	case "config":
		if len(os.Args[2:]) == 0 {
			configCommand.PrintDefaults()
			return
		}
		if err := configCommand.Parse(os.Args[2:]); err == nil {
			if config_help {
				configCommand.PrintDefaults()
				return
			}
			dir_path := input_dir + "/.fbp/config"
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}
			if subject_id != "" {
				config.SubjectID = subject_id
			}
			if session != "" {
				config.Session = session
			}
			if gestational_age != 0 {
				if _, err := validateGestationalAge(fmt.Sprintf("%d", gestational_age)); err != nil {
					exitGracefully(err)
				}
				config.GestationalAge = gestational_age
			}
			if mode_string != "" {
				m, err := validateMode(mode_string)
				if err != nil {
					exitGracefully(err)
				}
				config.Mode = m
			}
			if extraction_string != "" {
				e, err := validateExtraction(extraction_string)
				if err != nil {
					exitGracefully(err)
				}
				config.Extraction = e
			}
			if atlas_dir != "" {
				if _, err := os.Stat(atlas_dir); os.IsNotExist(err) {
					exitGracefully(errors.New("this atlas path does not exist"))
				}
				config.AtlasDir = atlas_dir
			}
			if !config.writeConfig(input_dir) {
				exitGracefully(errors.New("could not write the config file"))
			}
		}
	case "status":
		if err := statusCommand.Parse(os.Args[2:]); err == nil {
			if status_help {
				statusCommand.PrintDefaults()
				return
			}
			values := statusCommand.Args()
			if len(values) == 1 {
				input_dir = statusCommand.Arg(0)
			}
			dir_path := input_dir + "/.fbp/config"
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}

			p := RunParams{
				SubjectID:      config.SubjectID,
				Session:        config.Session,
				GestationalAge: config.GestationalAge,
				Mode:           config.Mode,
				Extraction:     config.Extraction,
			}
			if p.SubjectID == "" {
				if subject, err := resolveSubject(input_dir); err == nil {
					p.SubjectID = subject.Subject
					p.Session = subject.Session
				}
			}
			if p.Mode == "" {
				p.Mode = "postnatal"
			}
			run, err := buildRun(input_dir, p, true)
			if err != nil {
				exitGracefully(err)
			}

			if status_tui {
				statusTUI := StatusTUI{run: run}
				statusTUI.Init()
				return
			}

			file, _ := json.MarshalIndent(config, "", " ")
			fmt.Println(string(file))
			fmt.Printf("\nStages for mode %s:\n", p.Mode)
			for i, stage := range run.Stages {
				fmt.Printf("  [%d/%d] %-16s %s\n", i+1, len(run.Stages), stage.Name, stageState(run, stage))
			}
		}
	case "run":
		if err := runCommand.Parse(os.Args[2:]); err == nil {
			if run_help {
				runCommand.PrintDefaults()
				return
			}
			if run_verbose {
				log.SetLevel(log.DebugLevel)
			}
			values := runCommand.Args()
			if len(values) == 1 {
				input_dir = runCommand.Arg(0)
			}
			dir_path := input_dir + "/.fbp/config"
			config, err := readConfig(dir_path)
			if err != nil {
				exitGracefully(errors.New(errorConfigFile))
			}
			if _, err := os.Stat(filepath.Join(input_dir, ".fbp", "classify.yaml")); err == nil {
				if err := loadClassifyTable(filepath.Join(input_dir, ".fbp", "classify.yaml")); err != nil {
					exitGracefully(err)
				}
			}

			p := RunParams{
				SubjectID:      config.SubjectID,
				Session:        config.Session,
				GestationalAge: config.GestationalAge,
				Mode:           config.Mode,
				Extraction:     config.Extraction,
				InputFile:      input_file,
				TransformFile:  transform_file,
			}
			if subject_id != "" {
				p.SubjectID = subject_id
			}
			if session != "" {
				p.Session = session
			}
			if gestational_age != 0 {
				p.GestationalAge = gestational_age
			}
			if mode_string != "" {
				p.Mode = mode_string
			}
			if extraction_string != "" {
				p.Extraction = extraction_string
			}
			if p.SubjectID == "" {
				if subject, err := resolveSubject(input_dir); err == nil {
					p.SubjectID = subject.Subject
					p.Session = subject.Session
					fmt.Printf("Using subject %s from the working directory.\n", subject)
				}
			}
			p, err = collectRunParams(p, os.Stdin)
			if err != nil {
				exitGracefully(err)
			}

			run, err := buildRun(input_dir, p, run_test)
			if err != nil {
				exitGracefully(err)
			}

			if !run_test && needsSudo(run.Stages, run.Tools) {
				password, err := askForPassword()
				if err != nil {
					exitGracefully(err)
				}
				sudo, err := newSudoSession(password)
				if err != nil {
					exitGracefully(err)
				}
				defer sudo.Close()
				run.Sudo = sudo
			}

			if err := runPipeline(run); err != nil {
				exitGracefully(err)
			}

			config.LastRun = time.Now().String()
			config.SubjectID = p.SubjectID
			config.Session = p.Session
			config.GestationalAge = p.GestationalAge
			config.Mode = p.Mode
			config.Extraction = p.Extraction
			if !config.writeConfig(input_dir) {
				fmt.Println("Warning: could not update the config file")
			}
			if !run_test {
				fmt.Printf("\nAll %d stages done for %s.\n", len(run.Stages), run.Subject)
			}
		}
	case "rank":
		if err := rankCommand.Parse(os.Args[2:]); err == nil {
			if rank_help {
				rankCommand.PrintDefaults()
				return
			}
			master := "."
			if len(rankCommand.Args()) == 1 {
				master = rankCommand.Arg(0)
			}
			if err := rankFolders(master, rank_test, os.Stdout); err != nil {
				exitGracefully(err)
			}
		}
	case "rename":
		if err := renameCommand.Parse(os.Args[2:]); err == nil {
			if rename_help {
				renameCommand.PrintDefaults()
				return
			}
			master := "."
			if len(renameCommand.Args()) == 1 {
				master = renameCommand.Arg(0)
			}
			if err := renameFolders(master, rename_test, os.Stdout); err != nil {
				exitGracefully(err)
			}
		}
	case "preview":
		if err := previewCommand.Parse(os.Args[2:]); err == nil {
			if preview_help || len(previewCommand.Args()) == 0 {
				fmt.Printf("Usage: %s preview <volume.nii.gz>\n", own_name)
				previewCommand.PrintDefaults()
				return
			}
			for _, p := range previewCommand.Args() {
				if err := previewVolume(p, os.Stdout); err != nil {
					exitGracefully(err)
				}
			}
		}
	case "mcp":
		if err := mcpCommand.Parse(os.Args[2:]); err == nil {
			if mcp_help {
				mcpCommand.PrintDefaults()
				return
			}
			startMCP(mcp_http)
		}
	case "--version", "version":
		fmt.Printf("%s version %s%s\n", own_name, version, compileDate)
	default:
		flag.Usage()
		fmt.Println(strings.Join([]string{"Error: unknown option ", os.Args[1]}, ""))
		os.Exit(-1)
	}
}
