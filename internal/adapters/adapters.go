// Package adapters reads the on-disk project directory of a session through
// a uniform interface, with one variant per pipeline layout. Adapters are
// strictly read-only toward the project: busy SQL artifacts are copied
// before reading and absent artifacts yield empty results, so in-progress
// sessions always render.
package adapters

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"emhub/internal/sqlitefile"
)

// SeriesStats summarizes one artifact series of a session.
type SeriesStats struct {
	Count   int       `json:"count"`
	FirstTS time.Time `json:"first_ts"`
	LastTS  time.Time `json:"last_ts"`
	Hours   float64   `json:"hours"`
}

// Stats is the session overview returned by GetStats.
type Stats struct {
	Movies      SeriesStats `json:"movies"`
	CTFs        SeriesStats `json:"ctfs"`
	Coordinates SeriesStats `json:"coordinates"`
	Classes2D   int         `json:"classes2d"`
}

// Micrograph is one CTF summary row.
type Micrograph struct {
	ID              int     `json:"id"`
	Micrograph      string  `json:"micrograph"`
	MicName         string  `json:"micName,omitempty"`
	CtfImage        string  `json:"ctfImage"`
	CtfDefocus      float64 `json:"ctfDefocus"`
	CtfResolution   float64 `json:"ctfResolution"`
	CtfDefocusAngle float64 `json:"ctfDefocusAngle"`
	CtfAstigmatism  float64 `json:"ctfAstigmatism"`
}

// Point is one picked coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MicrographData is the on-demand detail view of one micrograph.
type MicrographData struct {
	Micrograph   string  `json:"micrograph"`
	MicThumbnail string  `json:"micThumbnail,omitempty"`
	PsdThumbnail string  `json:"psdThumbnail,omitempty"`
	PixelSize    float64 `json:"pixelSize"`
	Coordinates  []Point `json:"coordinates,omitempty"`
	GridSquare   string  `json:"gridSquare,omitempty"`
	FoilHole     string  `json:"foilHole,omitempty"`
	Defocus      float64 `json:"defocus"`
	Astigmatism  float64 `json:"astigmatism"`
	Resolution   float64 `json:"resolution"`
}

// GridSquare aggregates the micrographs collected on one EPU grid square.
type GridSquare struct {
	ID          string   `json:"gsId"`
	Micrographs []string `json:"micrographs"`
	Image       string   `json:"image,omitempty"`
}

// RunRef identifies one classification run.
type RunRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Class2D is one 2D class average.
type Class2D struct {
	ID      int    `json:"id"`
	Size    int    `json:"size"`
	Average string `json:"average,omitempty"`
}

// Classes2D is the 2D classification view: available runs, the class items
// of one run, and the ids retained by the downstream selection job.
type Classes2D struct {
	Runs      []RunRef  `json:"runs"`
	Items     []Class2D `json:"items"`
	Selection []int     `json:"selection"`
}

// Workflow process statuses.
const (
	StatusFinished = "finished"
	StatusRunning  = "running"
	StatusAborted  = "aborted"
	StatusFailed   = "failed"
	StatusUnknown  = "unknown"
)

// WorkflowNode is one process of the pipeline DAG. Links list the ids of the
// processes consuming this process's outputs.
type WorkflowNode struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Status string   `json:"status"`
	Type   string   `json:"type"`
	Links  []string `json:"links"`
}

// Run describes one pipeline run directory.
type Run struct {
	ID     string            `json:"id"`
	Dir    string            `json:"dir"`
	Values map[string]string `json:"values"`
	StdOut string            `json:"stdout"`
	StdErr string            `json:"stderr"`
}

// SessionData reads a session's project directory. Implementations return
// empty results, never errors, when the expected artifact is absent.
type SessionData interface {
	GetStats(ctx context.Context) (Stats, error)
	GetMicrographs(ctx context.Context) ([]Micrograph, error)
	GetMicrographData(ctx context.Context, micID int) (MicrographData, error)
	GetMicrographCoordinates(ctx context.Context, micName string) ([]Point, error)
	GetGridSquares(ctx context.Context) ([]GridSquare, error)
	GetMicrographGridSquare(ctx context.Context, gsID string) (GridSquare, error)
	GetClasses2D(ctx context.Context, runID string) (Classes2D, error)
	GetWorkflow(ctx context.Context) ([]WorkflowNode, error)
	GetRun(ctx context.Context, runID string) (Run, error)
}

// ProjectManifest is the file whose presence selects the SQL-indexed
// pipeline layout.
const ProjectManifest = "project.sqlite"

// Open selects the adapter variant for the project directory: the
// SQL-indexed layout when its manifest is present, the job-directory layout
// otherwise.
func Open(dataPath string, enc ImageEncoder, copyOpts sqlitefile.CopyOptions) SessionData {
	if enc == nil {
		enc = NopEncoder{}
	}
	if _, err := os.Stat(filepath.Join(dataPath, ProjectManifest)); err == nil {
		return NewScipionData(dataPath, enc, copyOpts)
	}
	return NewRelionData(dataPath, enc)
}

// span fills Hours from the first and last timestamps.
func (s *SeriesStats) span() {
	if !s.FirstTS.IsZero() && !s.LastTS.IsZero() {
		s.Hours = s.LastTS.Sub(s.FirstTS).Hours()
	}
}

func fileMTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// globLast returns the lexically last match of pattern, or "" when nothing
// matches. Job directories are numbered, so the last match is the most
// recent run.
func globLast(pattern string) string {
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}
