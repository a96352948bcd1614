package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/videodoc/platform/internal/errors"
)

// Workspace manages per-task directories and artifact files under a data root.
type Workspace struct {
	root string
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

func (w *Workspace) TaskDir(taskID string) string {
	return filepath.Join(w.root, taskID)
}

// FramesDir is where sampled frame images for a task live.
func (w *Workspace) FramesDir(taskID string) string {
	return filepath.Join(w.TaskDir(taskID), "frames")
}

func (w *Workspace) ArtifactPath(taskID, name string) string {
	return filepath.Join(w.TaskDir(taskID), name)
}

// EnsureTaskDir creates the task directory tree if needed.
func (w *Workspace) EnsureTaskDir(taskID string) (string, error) {
	dir := w.TaskDir(taskID)
	if err := os.MkdirAll(w.FramesDir(taskID), 0o755); err != nil {
		return "", errors.Wrapf(err, errors.CodeInternal, "create task dir %s", dir)
	}
	return dir, nil
}

// Exists reports whether the named artifact is present and non-empty.
func (w *Workspace) Exists(taskID, name string) bool {
	info, err := os.Stat(w.ArtifactPath(taskID, name))
	return err == nil && info.Size() > 0
}

// WriteJSON persists v atomically: written to a temp file in the task
// directory, then renamed into place, so readers never observe a partial
// artifact.
func (w *Workspace) WriteJSON(taskID, name string, v any) error {
	dir := w.TaskDir(taskID)
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "create temp artifact %s", name)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.CodeInternal, "encode artifact %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.CodeInternal, "flush artifact %s", name)
	}
	if err := os.Rename(tmpPath, w.ArtifactPath(taskID, name)); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, errors.CodeInternal, "publish artifact %s", name)
	}
	return nil
}

// ReadJSON loads the named artifact into v.
func (w *Workspace) ReadJSON(taskID, name string, v any) error {
	data, err := os.ReadFile(w.ArtifactPath(taskID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Newf(errors.CodeNotFound, "artifact %s not found for task %s", name, taskID)
		}
		return errors.Wrapf(err, errors.CodeInternal, "read artifact %s", name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "decode artifact %s", name)
	}
	return nil
}

// MissingArtifacts lists artifacts absent for the stages before from.
func (w *Workspace) MissingArtifacts(taskID string, from Stage) []string {
	var missing []string
	for _, stage := range Stages[:StageIndex(from)] {
		for _, name := range stage.Artifacts() {
			if !w.Exists(taskID, name) {
				missing = append(missing, fmt.Sprintf("%s (%s)", name, stage))
			}
		}
	}
	return missing
}
