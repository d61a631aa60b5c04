package adapters

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"emhub/internal/starfile"
)

// relionData reads the job-directory pipeline layout: numbered job folders
// per task type holding tabular text files, with the DAG described by
// default_pipeline.star.
type relionData struct {
	root string
	enc  ImageEncoder
}

// NewRelionData creates the adapter for the project directory at root.
func NewRelionData(root string, enc ImageEncoder) SessionData {
	if enc == nil {
		enc = NopEncoder{}
	}
	return &relionData{root: root, enc: enc}
}

func (d *relionData) path(parts ...string) string {
	return filepath.Join(append([]string{d.root}, parts...)...)
}

// moviesTable prefers the EPU index over the import job output.
func (d *relionData) moviesTable() *starfile.Table {
	epuIndex := d.path("EPU", "movies.star")
	if _, err := os.Stat(epuIndex); err == nil {
		if f, err := starfile.ParseFile(epuIndex); err == nil {
			if t := f.FirstTable(); t != nil {
				return t
			}
		}
		return &starfile.Table{}
	}
	last := globLast(d.path("Import", "job*", "movies.star"))
	if last == "" {
		return &starfile.Table{}
	}
	f, err := starfile.ParseFile(last)
	if err != nil {
		return &starfile.Table{}
	}
	return f.Table("movies")
}

func (d *relionData) ctfFile() *starfile.File {
	last := globLast(d.path("CtfFind", "job*", "micrographs_ctf.star"))
	if last == "" {
		return &starfile.File{}
	}
	f, err := starfile.ParseFile(last)
	if err != nil {
		return &starfile.File{}
	}
	return f
}

func (d *relionData) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{}

	movies := d.moviesTable()
	movieCol := "_rlnMicrographMovieName"
	if !movies.HasColumn(movieCol) {
		movieCol = "_rlnMicrographName"
	}
	stats.Movies = d.seriesFromTable(movies, movieCol)

	ctfs := d.ctfFile().Table("micrographs")
	stats.CTFs = d.seriesFromTable(ctfs, "_rlnMicrographName")

	stats.Coordinates.Count = d.countCoordinates()
	stats.Classes2D = len(d.class2DRuns())
	return stats, nil
}

// seriesFromTable counts rows and takes the file-modification times of the
// first and last referenced artifact.
func (d *relionData) seriesFromTable(t *starfile.Table, col string) SeriesStats {
	s := SeriesStats{Count: len(t.Rows)}
	if s.Count == 0 {
		return s
	}
	s.FirstTS = fileMTime(d.path(t.Get(0, col)))
	s.LastTS = fileMTime(d.path(t.Get(s.Count-1, col)))
	s.span()
	return s
}

func (d *relionData) countCoordinates() int {
	jobDir := globLast(d.path("*Pick", "job*"))
	if jobDir == "" {
		return 0
	}
	total := 0
	_ = filepath.WalkDir(jobDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(path, ".star") {
			return nil
		}
		f, err := starfile.ParseFile(path)
		if err != nil {
			return nil
		}
		if t := f.FirstTable(); t != nil && t.HasColumn("_rlnCoordinateX") {
			total += len(t.Rows)
		}
		return nil
	})
	return total
}

func (d *relionData) GetMicrographs(ctx context.Context) ([]Micrograph, error) {
	t := d.ctfFile().Table("micrographs")
	out := make([]Micrograph, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, micrographFromCtfRow(t, i))
	}
	return out, nil
}

// micrographFromCtfRow projects one CTF estimation row. Resolution is
// capped at 10 since anything beyond it means a failed fit.
func micrographFromCtfRow(t *starfile.Table, row int) Micrograph {
	defocusU := t.Float(row, "_rlnDefocusU")
	defocusV := t.Float(row, "_rlnDefocusV")
	return Micrograph{
		ID:              row + 1,
		Micrograph:      t.Get(row, "_rlnMicrographName"),
		CtfImage:        strings.TrimSuffix(t.Get(row, "_rlnCtfImage"), ":mrc"),
		CtfDefocus:      (defocusU + defocusV) / 2,
		CtfResolution:   math.Min(t.Float(row, "_rlnCtfMaxResolution"), 10),
		CtfDefocusAngle: t.Float(row, "_rlnDefocusAngle"),
		CtfAstigmatism:  math.Abs(defocusU - defocusV),
	}
}

func (d *relionData) GetMicrographData(ctx context.Context, micID int) (MicrographData, error) {
	ctf := d.ctfFile()
	t := ctf.Table("micrographs")
	row := micID - 1
	if row < 0 || row >= len(t.Rows) {
		return MicrographData{}, nil
	}
	mic := micrographFromCtfRow(t, row)
	gsID, fhID := epuIDs(mic.Micrograph)

	pixelSize := 0.0
	if optics := ctf.Table("optics"); len(optics.Rows) > 0 {
		pixelSize = optics.Float(0, "_rlnMicrographPixelSize")
	}
	coords, _ := d.GetMicrographCoordinates(ctx, mic.Micrograph)

	data := MicrographData{
		Micrograph:  mic.Micrograph,
		PixelSize:   pixelSize,
		Coordinates: coords,
		GridSquare:  gsID,
		FoilHole:    fhID,
		Defocus:     round2(mic.CtfDefocus / 10000),
		Astigmatism: round2(mic.CtfAstigmatism),
		Resolution:  round2(mic.CtfResolution),
	}
	if thumb, err := d.enc.EncodePNG(d.path(mic.Micrograph), 0); err == nil {
		data.MicThumbnail = thumb
	}
	if psd, err := d.enc.EncodePNG(d.path(mic.CtfImage), 0); err == nil {
		data.PsdThumbnail = psd
	}
	return data, nil
}

func (d *relionData) GetMicrographCoordinates(ctx context.Context, micName string) ([]Point, error) {
	jobDir := globLast(d.path("*Pick", "job*"))
	if jobDir == "" {
		return nil, nil
	}
	base := strings.TrimSuffix(filepath.Base(micName), filepath.Ext(micName))
	var coordFile string
	_ = filepath.WalkDir(jobDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".star") && strings.Contains(filepath.Base(path), base) {
			coordFile = path
			return filepath.SkipAll
		}
		return nil
	})
	if coordFile == "" {
		return nil, nil
	}
	f, err := starfile.ParseFile(coordFile)
	if err != nil {
		return nil, nil
	}
	t := f.FirstTable()
	if t == nil {
		return nil, nil
	}
	out := make([]Point, 0, len(t.Rows))
	for i := range t.Rows {
		out = append(out, Point{
			X: int(t.Float(i, "_rlnCoordinateX")),
			Y: int(t.Float(i, "_rlnCoordinateY")),
		})
	}
	return out, nil
}

func (d *relionData) micrographNames() []string {
	t := d.ctfFile().Table("micrographs")
	names := make([]string, 0, len(t.Rows))
	for i := range t.Rows {
		names = append(names, t.Get(i, "_rlnMicrographName"))
	}
	return names
}

func (d *relionData) GetGridSquares(ctx context.Context) ([]GridSquare, error) {
	return groupGridSquares(d.micrographNames()), nil
}

func (d *relionData) GetMicrographGridSquare(ctx context.Context, gsID string) (GridSquare, error) {
	squares := groupGridSquares(d.micrographNames())
	for _, gs := range squares {
		if gs.ID == gsID {
			if image := globLast(d.path("EPU", "GridSquare_"+gsID, "*.jpg")); image != "" {
				if thumb, err := d.enc.EncodePNG(image, 0); err == nil {
					gs.Image = thumb
				}
			}
			return gs, nil
		}
	}
	return GridSquare{ID: gsID}, nil
}

func (d *relionData) class2DRuns() []RunRef {
	matches, _ := filepath.Glob(d.path("Class2D", "job*"))
	out := make([]RunRef, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(d.root, m)
		if err != nil {
			continue
		}
		id := filepath.ToSlash(rel)
		out = append(out, RunRef{ID: id, Label: id})
	}
	return out
}

func (d *relionData) GetClasses2D(ctx context.Context, runID string) (Classes2D, error) {
	out := Classes2D{Runs: d.class2DRuns(), Selection: []int{}}
	if runID == "" {
		if len(out.Runs) == 0 {
			return out, nil
		}
		runID = out.Runs[len(out.Runs)-1].ID
	}
	model := globLast(d.path(filepath.FromSlash(runID), "run_it*_model.star"))
	if model == "" {
		return out, nil
	}
	modelFile, err := starfile.ParseFile(model)
	if err != nil {
		return out, nil
	}
	classes := modelFile.Table("model_classes")

	// Class sizes are the distribution column projected onto the particle
	// count of the matching data file.
	total := 0
	if data := strings.Replace(model, "_model.star", "_data.star", 1); data != "" {
		if dataFile, err := starfile.ParseFile(data); err == nil {
			total = len(dataFile.Table("particles").Rows)
		}
	}
	for i := range classes.Rows {
		ref := classes.Get(i, "_rlnReferenceImage")
		id, stack := splitStackRef(ref)
		item := Class2D{
			ID:   id,
			Size: int(math.Round(classes.Float(i, "_rlnClassDistribution") * float64(total))),
		}
		if stack != "" {
			if avg, err := d.enc.EncodePNG(d.path(stack), id); err == nil {
				item.Average = avg
			}
		}
		out.Items = append(out.Items, item)
	}

	if selection := globLast(d.path("Select", "job*", "class_averages.star")); selection != "" {
		out.Selection = selectedClassIDs(selection)
	}
	return out, nil
}

// splitStackRef splits an image reference of the form NNNNNN@path into the
// slice number and the stack path.
func splitStackRef(ref string) (int, string) {
	at := strings.IndexByte(ref, '@')
	if at < 0 {
		return 0, ref
	}
	id, _ := strconv.Atoi(ref[:at])
	return id, ref[at+1:]
}

// selectedClassIDs reads the class ids retained by a selection job. Classes
// whose estimated resolution reaches 30 or worse are discarded.
func selectedClassIDs(path string) []int {
	f, err := starfile.ParseFile(path)
	if err != nil {
		return []int{}
	}
	t := f.FirstTable()
	if t == nil {
		return []int{}
	}
	out := []int{}
	for i := range t.Rows {
		if t.HasColumn("_rlnEstimatedResolution") && t.Float(i, "_rlnEstimatedResolution") >= 30 {
			continue
		}
		id, _ := splitStackRef(t.Get(i, "_rlnReferenceImage"))
		out = append(out, id)
	}
	return out
}

// Pipeline status labels normalized to the adapter vocabulary.
var relionStatuses = map[string]string{
	"Succeeded": StatusFinished,
	"Running":   StatusRunning,
	"Aborted":   StatusAborted,
	"Failed":    StatusFailed,
}

func (d *relionData) GetWorkflow(ctx context.Context) ([]WorkflowNode, error) {
	f, err := starfile.ParseFile(d.path("default_pipeline.star"))
	if err != nil {
		return nil, nil
	}
	processes := f.Table("pipeline_processes")
	nodes := make([]WorkflowNode, 0, len(processes.Rows))
	byID := make(map[string]int, len(processes.Rows))
	for i := range processes.Rows {
		name := processes.Get(i, "_rlnPipeLineProcessName")
		status, ok := relionStatuses[processes.Get(i, "_rlnPipeLineProcessStatusLabel")]
		if !ok {
			status = StatusUnknown
		}
		label := processes.Get(i, "_rlnPipeLineProcessAlias")
		if label == "" || label == "None" {
			label = name
		}
		byID[name] = i
		nodes = append(nodes, WorkflowNode{
			ID:     name,
			Label:  label,
			Status: status,
			Type:   processes.Get(i, "_rlnPipeLineProcessTypeLabel"),
			Links:  []string{},
		})
	}

	// An output node of process A that feeds process B links A to B.
	producers := map[string]string{}
	outputs := f.Table("pipeline_output_edges")
	for i := range outputs.Rows {
		producers[outputs.Get(i, "_rlnPipeLineEdgeToNode")] = outputs.Get(i, "_rlnPipeLineEdgeProcess")
	}
	inputs := f.Table("pipeline_input_edges")
	for i := range inputs.Rows {
		from := producers[inputs.Get(i, "_rlnPipeLineEdgeFromNode")]
		to := inputs.Get(i, "_rlnPipeLineEdgeProcess")
		if idx, ok := byID[from]; ok && from != to {
			nodes[idx].Links = append(nodes[idx].Links, to)
		}
	}
	return nodes, nil
}

func (d *relionData) GetRun(ctx context.Context, runID string) (Run, error) {
	dir := d.path(filepath.FromSlash(runID))
	run := Run{
		ID:     runID,
		Dir:    dir,
		Values: map[string]string{},
		StdOut: filepath.Join(dir, "run.out"),
		StdErr: filepath.Join(dir, "run.err"),
	}
	f, err := starfile.ParseFile(filepath.Join(dir, "job.star"))
	if err != nil {
		return run, nil
	}
	options := f.Table("joboptions_values")
	for i := range options.Rows {
		run.Values[options.Get(i, "_rlnJobOptionVariable")] = options.Get(i, "_rlnJobOptionValue")
	}
	return run, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
