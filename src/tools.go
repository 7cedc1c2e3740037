// Code written 2024 by Hauke Bartsch.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ToolSpec describes one external tool. Either Exec names a binary on the
// PATH (or an absolute path), or Container names an image that is run with
// the working directory mounted at /data. Sudo marks container tools that
// need the elevated-privilege session.
type ToolSpec struct {
	Name      string `yaml:"name"`
	Exec      string `yaml:"exec"`
	Container string `yaml:"container"`
	Sudo      bool   `yaml:"sudo"`
}

func (t ToolSpec) commandName() string {
	if t.Container != "" {
		return "docker run " + t.Container
	}
	return t.Exec
}

// invokeTool runs one external process synchronously and waits for it. The
// captured stdout/stderr are appended to log/stdout.log and log/stderr.log
// in the run directory, a non-zero exit becomes a ToolInvocationError. No
// retries and no timeout, the first failure ends the run.
func invokeTool(spec ToolSpec, args []string, dir string, sudo *sudoSession) error {
	var cmd *exec.Cmd
	var cmdline []string
	if spec.Container != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			abs = dir
		}
		cmdline = []string{"docker", "run", "--rm", "-v",
			fmt.Sprintf("%s:/data", abs), "-w", "/data", spec.Container}
		cmdline = append(cmdline, args...)
		if spec.Sudo && sudo != nil {
			cmdline = append([]string{"sudo", "-n"}, cmdline...)
		}
		cmd = exec.Command(cmdline[0], cmdline[1:]...)
	} else {
		cmdline = append([]string{spec.Exec}, args...)
		cmd = exec.Command(spec.Exec, args...)
		cmd.Dir = dir
	}
	log.WithFields(log.Fields{
		"tool":    spec.Name,
		"command": strings.Join(cmdline, " "),
	}).Debug("invoking external tool")

	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb
	runErr := cmd.Run()

	writeRunLogs(dir, strings.Join(cmdline, " "), outb.String(), errb.String())

	if runErr != nil {
		return &ToolInvocationError{
			Tool:   spec.Name,
			Args:   args,
			Stderr: errb.String(),
			Err:    runErr,
		}
	}
	return nil
}

// writeRunLogs appends the captured output of one invocation to the log
// folder of the run directory. Failing to write a log is not fatal, the
// pipeline result does not depend on it.
func writeRunLogs(dir string, cmdline string, stdout string, stderr string) {
	logDir := filepath.Join(dir, "log")
	if _, err := os.Stat(logDir); err != nil && os.IsNotExist(err) {
		if err := os.Mkdir(logDir, 0755); err != nil {
			fmt.Println("Warning: could not create the log directory")
			return
		}
	}
	appendLog := func(name, content string) {
		f, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Println("Warning: could not open " + name)
			return
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			fmt.Println("Warning: could not write to " + name)
		}
	}
	appendLog("stdout.log", cmdline+"\n"+stdout)
	appendLog("stderr.log", stderr)
}

// sudoSession keeps an elevated-privilege session alive for the duration
// of a run. The credentials are validated once up front, a background tick
// refreshes the sudo timestamp so container stages late in the pipeline do
// not ask again. Close stops the refresh when the run exits.
type sudoSession struct {
	stop chan struct{}
}

// newSudoSession validates the credentials with sudo -S -v, reading the
// password that was captured by the parameter collector. The password is
// handed to sudo and dropped, it is never logged or stored.
func newSudoSession(password string) (*sudoSession, error) {
	cmd := exec.Command("sudo", "-S", "-v")
	cmd.Stdin = strings.NewReader(password + "\n")
	var errb bytes.Buffer
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("could not validate sudo credentials: %v", err)
	}
	s := &sudoSession{stop: make(chan struct{})}
	go s.keepAlive()
	return s, nil
}

// keepAlive refreshes the sudo timestamp every minute. Not part of the
// pipeline's data flow, just keeps the session from timing out between
// container stages.
func (s *sudoSession) keepAlive() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cmd := exec.Command("sudo", "-n", "-v")
			if err := cmd.Run(); err != nil {
				log.WithField("error", err).Debug("sudo refresh failed")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *sudoSession) Close() {
	close(s.stop)
}

// needsSudo reports whether any stage of the run uses a tool that is
// marked for the elevated-privilege session.
func needsSudo(stages []Stage, tools map[string]ToolSpec) bool {
	for _, s := range stages {
		if t, ok := tools[s.Tool]; ok && t.Sudo {
			return true
		}
	}
	return false
}
