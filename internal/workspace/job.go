package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Job is the set of temporary files produced for one selection. All of them
// live in the workspace directory and start with ID.
type Job struct {
	ID  string
	dir string
}

// OutputTemplate is the yt-dlp output template for the retrieved media.
func (j *Job) OutputTemplate() string {
	return filepath.Join(j.dir, j.ID+".%(ext)s")
}

// Path returns the job file with the given extension (without dot).
func (j *Job) Path(ext string) string {
	return filepath.Join(j.dir, j.ID+"."+strings.TrimPrefix(ext, "."))
}

// SegmentPattern is a printf pattern taking the 0-based part index.
func (j *Job) SegmentPattern(ext string) string {
	return filepath.Join(j.dir, j.ID+".part%03d."+strings.TrimPrefix(ext, "."))
}

// Owns reports whether path belongs to this job.
func (j *Job) Owns(path string) bool {
	return filepath.Dir(path) == j.dir && strings.HasPrefix(filepath.Base(path), j.ID+".")
}

// Files lists the job's files currently on disk, sorted by name.
func (j *Job) Files() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), j.ID+".") {
			continue
		}
		out = append(out, filepath.Join(j.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Cleanup removes every file of the job. Files already gone are not an error.
func (j *Job) Cleanup() error {
	files, err := j.Files()
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
