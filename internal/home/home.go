package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the docstream home directory.
	DefaultDirName = ".docstream"

	// UploadsDirName holds transient uploaded source documents.
	UploadsDirName = "uploads"

	// OutputsDirName holds per-job output directories.
	OutputsDirName = "outputs"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the docstream home directory structure.
type Dir struct {
	path       string
	uploadsDir string
	outputsDir string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.docstream).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// WithStorage overrides the uploads and outputs locations. Empty values keep
// the defaults under the home directory.
func (d *Dir) WithStorage(uploadsDir, outputsDir string) *Dir {
	d.uploadsDir = uploadsDir
	d.outputsDir = outputsDir
	return d
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// UploadsPath returns the directory uploaded documents are written to.
func (d *Dir) UploadsPath() string {
	if d.uploadsDir != "" {
		return d.uploadsDir
	}
	return filepath.Join(d.path, UploadsDirName)
}

// OutputsPath returns the root of all job output directories.
// Files below it are served under /outputs.
func (d *Dir) OutputsPath() string {
	if d.outputsDir != "" {
		return d.outputsDir
	}
	return filepath.Join(d.path, OutputsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// UploadPath returns where an upload named name, received at timestamp, is stored.
func (d *Dir) UploadPath(timestamp, name string) string {
	return filepath.Join(d.UploadsPath(), timestamp+"_"+filepath.Base(name))
}

// JobOutputDir returns the output directory for the job started at timestamp.
func (d *Dir) JobOutputDir(timestamp string) string {
	return filepath.Join(d.OutputsPath(), timestamp)
}

// EnsureJobOutputDir creates the output directory for a job.
func (d *Dir) EnsureJobOutputDir(timestamp string) (string, error) {
	dir := d.JobOutputDir(timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	if err := os.MkdirAll(d.UploadsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}
	if err := os.MkdirAll(d.OutputsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create outputs directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
