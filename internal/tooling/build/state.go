package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/conduit-lang/bundler/internal/packager"
)

// StateFile is the name of the build state file inside the output directory
const StateFile = ".bundler-state.json"

// Version is the bundler version recorded in build state
var Version = "0.1.0"

// BuildState records the sources and outputs of the last successful build
type BuildState struct {
	BuildID string `json:"build_id"`
	// FileHashes maps absolute source paths to their content hashes
	FileHashes map[string]string `json:"file_hashes"`
	// Outputs lists the bundle file names written by the build
	Outputs []string `json:"outputs"`
	// BuildOptions tracks the build configuration that affects output
	BuildOptions BuildOptionsSnapshot `json:"build_options"`
	// LastBuildTime records when the build completed
	LastBuildTime time.Time `json:"last_build_time"`
	Version       string    `json:"version"`
}

// BuildOptionsSnapshot captures build options that affect the output
type BuildOptionsSnapshot struct {
	Mode      string `json:"mode"`
	Target    string `json:"target"`
	PublicURL string `json:"public_url"`
	Global    string `json:"global,omitempty"`
}

func snapshot(opts *BuildOptions) BuildOptionsSnapshot {
	return BuildOptionsSnapshot{
		Mode:      opts.Mode.String(),
		Target:    opts.Target.String(),
		PublicURL: opts.PublicURL,
		Global:    opts.Global,
	}
}

// LoadState loads build state from the output directory. A missing file
// yields an empty state.
func LoadState(fs afero.Fs, outDir string) (*BuildState, error) {
	statePath := filepath.Join(outDir, StateFile)

	data, err := afero.ReadFile(fs, statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &BuildState{FileHashes: make(map[string]string)}, nil
		}
		return nil, fmt.Errorf("failed to open build state: %w", err)
	}

	var state BuildState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode build state: %w", err)
	}
	if state.FileHashes == nil {
		state.FileHashes = make(map[string]string)
	}
	return &state, nil
}

// SaveState persists build state to the output directory
func (s *BuildState) SaveState(fs afero.Fs, outDir string) error {
	if err := fs.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build state: %w", err)
	}

	statePath := filepath.Join(outDir, StateFile)
	tmpPath := statePath + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if err := fs.Rename(tmpPath, statePath); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("failed to save build state: %w", err)
	}
	return nil
}

// ChangedFiles returns the sources that are new or whose hash differs from
// the recorded one, sorted. On a first build every source has changed.
func (s *BuildState) ChangedFiles(hashes map[string]string) []string {
	var changed []string
	for path, hash := range hashes {
		if s.FileHashes[path] != hash {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// StaleOutputs returns the outputs of the recorded build that the new
// build did not write. Names that are not plain file names are ignored.
func (s *BuildState) StaleOutputs(outputs []packager.Output) []string {
	current := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		current[o.Name] = true
	}

	var stale []string
	for _, name := range s.Outputs {
		if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
			continue
		}
		if !current[name] {
			stale = append(stale, name)
		}
	}
	return stale
}

// UpdateFromBuild updates the build state after a successful build
func (s *BuildState) UpdateFromBuild(result *BuildResult, hashes map[string]string, opts *BuildOptions) {
	s.BuildID = result.BuildID.String()
	s.FileHashes = hashes
	s.Outputs = make([]string, 0, len(result.Outputs))
	for _, o := range result.Outputs {
		s.Outputs = append(s.Outputs, o.Name)
	}
	sort.Strings(s.Outputs)
	s.BuildOptions = snapshot(opts)
	s.LastBuildTime = time.Now()
	s.Version = Version
}
