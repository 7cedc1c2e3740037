package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// SubjectID is the dataset identifier derived from the working directory,
// a subject token plus a session token, FX41-s1 style. All intermediate
// filenames of a run are templated with it.
type SubjectID struct {
	Subject string
	Session string
}

func (s SubjectID) String() string {
	if s.Session == "" {
		return s.Subject
	}
	return s.Subject + "-" + s.Session
}

var labelFilePattern = regexp.MustCompile(`^(.+)-(s\d+)_all_labels\.nii\.gz$`)
var subjectDirPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*)-(s\d+)$`)

// resolveSubject derives the subject identifier from the contents of the
// working directory. It first looks for a labels file with the
// <subject>-<session>_all_labels.nii.gz naming, then for a sub-directory
// named <subject>-<session>. The directory listing is sorted so the same
// directory always yields the same identifier; if more than one candidate
// exists the first one is used and a warning is printed.
func resolveSubject(workdir string) (SubjectID, error) {
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return SubjectID{}, &MissingInputError{Stage: "resolve", Path: workdir}
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var candidates []SubjectID
	for _, name := range names {
		if m := labelFilePattern.FindStringSubmatch(name); m != nil {
			candidates = append(candidates, SubjectID{Subject: m[1], Session: m[2]})
		}
	}
	if len(candidates) == 0 {
		for _, name := range names {
			info, err := os.Stat(filepath.Join(workdir, name))
			if err != nil || !info.IsDir() {
				continue
			}
			if m := subjectDirPattern.FindStringSubmatch(name); m != nil {
				candidates = append(candidates, SubjectID{Subject: m[1], Session: m[2]})
			}
		}
	}

	if len(candidates) == 0 {
		return SubjectID{}, &MissingInputError{Stage: "resolve",
			Path: filepath.Join(workdir, "*-s1_all_labels.nii.gz")}
	}
	if len(candidates) > 1 {
		var all []string
		for _, c := range candidates {
			all = append(all, c.String())
		}
		fmt.Printf("Warning: more than one subject in %s (%s), using %s\n",
			workdir, strings.Join(all, ", "), candidates[0])
	}
	return candidates[0], nil
}

// workingSet lists the volumes a per-file stage operates on, every .nii.gz
// in the working directory except the atlas and the srr_ intermediates.
// This mirrors what the registration step expects to see.
func workingSet(workdir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(workdir, "*.nii.gz"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var files []string
	for _, m := range matches {
		base := filepath.Base(m)
		if strings.HasPrefix(base, "t2w_GA") || strings.HasPrefix(base, "srr_") {
			continue
		}
		files = append(files, base)
	}
	return files, nil
}
