// Package storage keeps per-job artifacts on local disk.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jo-hoe/reelsmith/internal/common"
	"github.com/jo-hoe/reelsmith/internal/media"
)

var safeJobID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Archive writes the timeline and captions of composed jobs below baseDir/jobs/<id>.
type Archive struct {
	baseDir string
}

// NewArchive creates an archive rooted at baseDir/jobs.
func NewArchive(baseDir string) *Archive {
	return &Archive{baseDir: filepath.Join(baseDir, common.JobsDirName)}
}

// Dir returns the directory holding the artifacts of jobID.
func (a *Archive) Dir(jobID string) (string, error) {
	if !safeJobID.MatchString(jobID) {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(a.baseDir, jobID), nil
}

// Write stores tl as JSON and srt as a SubRip file, replacing earlier artifacts of the
// same job. It returns the job directory.
func (a *Archive) Write(tl media.Timeline, srt string) (string, error) {
	dir, err := a.Dir(tl.JobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure job dir: %w", err)
	}
	b, err := json.MarshalIndent(tl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode timeline: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, common.TimelineFileName), b); err != nil {
		return "", err
	}
	if srt != "" {
		if err := writeAtomic(filepath.Join(dir, common.CaptionsFileName), []byte(srt)); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// ReadTimeline loads the archived timeline of jobID.
func (a *Archive) ReadTimeline(jobID string) (media.Timeline, error) {
	var tl media.Timeline
	dir, err := a.Dir(jobID)
	if err != nil {
		return tl, err
	}
	b, err := os.ReadFile(filepath.Join(dir, common.TimelineFileName))
	if err != nil {
		return tl, err
	}
	if err := json.Unmarshal(b, &tl); err != nil {
		return tl, fmt.Errorf("decode timeline: %w", err)
	}
	return tl, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create tmp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
