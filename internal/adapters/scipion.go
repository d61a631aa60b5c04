package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"emhub/internal/sqlitefile"
)

// scipionData reads the SQL-indexed pipeline layout: a project manifest
// database plus per-output databases under numbered run directories. Every
// database is copied before reading since the pipeline may be writing it.
type scipionData struct {
	root     string
	enc      ImageEncoder
	copyOpts sqlitefile.CopyOptions
}

// NewScipionData creates the adapter for the project directory at root.
func NewScipionData(root string, enc ImageEncoder, copyOpts sqlitefile.CopyOptions) SessionData {
	if enc == nil {
		enc = NopEncoder{}
	}
	return &scipionData{root: root, enc: enc, copyOpts: copyOpts}
}

func (d *scipionData) path(parts ...string) string {
	return filepath.Join(append([]string{d.root}, parts...)...)
}

// dataset is one output database: an Objects table whose generic columns
// are named by the Classes mapping table.
type dataset struct {
	db   *sql.DB
	cols map[string]string
}

func (d *scipionData) openDataset(ctx context.Context, path string) (*dataset, func(), error) {
	db, cleanup, err := sqlitefile.OpenCopy(ctx, path, d.copyOpts)
	if err != nil {
		return nil, nil, err
	}
	cols := map[string]string{}
	rows, err := db.QueryContext(ctx, `SELECT label_property, column_name FROM Classes`)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("read column mapping of %s: %w", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var label, column string
		if err := rows.Scan(&label, &column); err != nil {
			cleanup()
			return nil, nil, err
		}
		cols[label] = column
	}
	if err := rows.Err(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return &dataset{db: db, cols: cols}, cleanup, nil
}

func (ds *dataset) count(ctx context.Context) (int, error) {
	var n int
	err := ds.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM Objects`).Scan(&n)
	return n, err
}

// edge returns the value of the labeled column in the first or last row.
func (ds *dataset) edge(ctx context.Context, label string, last bool) (string, error) {
	col, ok := ds.cols[label]
	if !ok {
		return "", nil
	}
	order := "ASC"
	if last {
		order = "DESC"
	}
	var v sql.NullString
	err := ds.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM Objects ORDER BY id %s LIMIT 1`, col, order)).Scan(&v)
	if err != nil {
		return "", err
	}
	return v.String, nil
}

// dataRow is one Objects row projected onto requested labels.
type dataRow struct {
	ID     int
	Values map[string]string
}

func (ds *dataset) rows(ctx context.Context, labels ...string) ([]dataRow, error) {
	selected := []string{"id"}
	kept := []string{}
	for _, label := range labels {
		if col, ok := ds.cols[label]; ok {
			selected = append(selected, col)
			kept = append(kept, label)
		}
	}
	rows, err := ds.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM Objects ORDER BY id`, strings.Join(selected, ", ")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dataRow
	for rows.Next() {
		values := make([]any, len(selected))
		var id int
		values[0] = &id
		strs := make([]sql.NullString, len(kept))
		for i := range strs {
			values[i+1] = &strs[i]
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := dataRow{ID: id, Values: make(map[string]string, len(kept))}
		for i, label := range kept {
			row.Values[label] = strs[i].String
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r dataRow) float(label string) float64 {
	v, _ := strconv.ParseFloat(r.Values[label], 64)
	return v
}

func (d *scipionData) moviesDB() string {
	return globLast(d.path("Runs", "*ProtImportMovies*", "movies.sqlite"))
}

func (d *scipionData) ctfsDB() string {
	return globLast(d.path("Runs", "*", "ctfs.sqlite"))
}

func (d *scipionData) coordinatesDB() string {
	return globLast(d.path("Runs", "*", "coordinates.sqlite"))
}

func (d *scipionData) classesDBs() []string {
	matches, _ := filepath.Glob(d.path("Runs", "*", "classes2D.sqlite"))
	return matches
}

// seriesFromDB counts rows and stamps the series with the mtimes of the
// first and last referenced file.
func (d *scipionData) seriesFromDB(ctx context.Context, path string, labels ...string) SeriesStats {
	s := SeriesStats{}
	if path == "" {
		return s
	}
	ds, cleanup, err := d.openDataset(ctx, path)
	if err != nil {
		return s
	}
	defer cleanup()
	if s.Count, err = ds.count(ctx); err != nil || s.Count == 0 {
		return SeriesStats{}
	}
	for _, label := range labels {
		first, err := ds.edge(ctx, label, false)
		if err != nil || first == "" {
			continue
		}
		last, err := ds.edge(ctx, label, true)
		if err != nil {
			continue
		}
		s.FirstTS = fileMTime(d.path(first))
		s.LastTS = fileMTime(d.path(last))
		s.span()
		break
	}
	return s
}

func (d *scipionData) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Movies:      d.seriesFromDB(ctx, d.moviesDB(), "_filename"),
		CTFs:        d.seriesFromDB(ctx, d.ctfsDB(), "_psdFile", "_micObj._filename"),
		Coordinates: d.seriesFromDB(ctx, d.coordinatesDB()),
		Classes2D:   len(d.classesDBs()),
	}
	return stats, nil
}

func (d *scipionData) GetMicrographs(ctx context.Context) ([]Micrograph, error) {
	path := d.ctfsDB()
	if path == "" {
		return nil, nil
	}
	ds, cleanup, err := d.openDataset(ctx, path)
	if err != nil {
		return nil, nil
	}
	defer cleanup()
	rows, err := ds.rows(ctx, "_micObj._filename", "_psdFile", "_defocusU", "_defocusV", "_defocusAngle", "_resolution")
	if err != nil {
		return nil, nil
	}
	out := make([]Micrograph, 0, len(rows))
	for _, r := range rows {
		defocusU := r.float("_defocusU")
		defocusV := r.float("_defocusV")
		out = append(out, Micrograph{
			ID:              r.ID,
			Micrograph:      r.Values["_micObj._filename"],
			CtfImage:        r.Values["_psdFile"],
			CtfDefocus:      (defocusU + defocusV) / 2,
			CtfResolution:   math.Min(r.float("_resolution"), 10),
			CtfDefocusAngle: r.float("_defocusAngle"),
			CtfAstigmatism:  math.Abs(defocusU - defocusV),
		})
	}
	return out, nil
}

func (d *scipionData) GetMicrographData(ctx context.Context, micID int) (MicrographData, error) {
	mics, err := d.GetMicrographs(ctx)
	if err != nil {
		return MicrographData{}, err
	}
	for _, mic := range mics {
		if mic.ID != micID {
			continue
		}
		gsID, fhID := epuIDs(mic.Micrograph)
		coords, _ := d.GetMicrographCoordinates(ctx, mic.Micrograph)
		data := MicrographData{
			Micrograph:  mic.Micrograph,
			PixelSize:   d.pixelSize(ctx),
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
	return MicrographData{}, nil
}

func (d *scipionData) pixelSize(ctx context.Context) float64 {
	path := d.moviesDB()
	if path == "" {
		return 0
	}
	ds, cleanup, err := d.openDataset(ctx, path)
	if err != nil {
		return 0
	}
	defer cleanup()
	rows, err := ds.rows(ctx, "_samplingRate", "_acquisition._magnification")
	if err != nil || len(rows) == 0 {
		return 0
	}
	return rows[0].float("_samplingRate")
}

func (d *scipionData) GetMicrographCoordinates(ctx context.Context, micName string) ([]Point, error) {
	path := d.coordinatesDB()
	if path == "" {
		return nil, nil
	}
	ds, cleanup, err := d.openDataset(ctx, path)
	if err != nil {
		return nil, nil
	}
	defer cleanup()
	rows, err := ds.rows(ctx, "_x", "_y", "_micName")
	if err != nil {
		return nil, nil
	}
	base := filepath.Base(micName)
	var out []Point
	for _, r := range rows {
		name := r.Values["_micName"]
		if name != "" && filepath.Base(name) != base {
			continue
		}
		out = append(out, Point{X: int(r.float("_x")), Y: int(r.float("_y"))})
	}
	return out, nil
}

func (d *scipionData) micrographNames(ctx context.Context) []string {
	mics, _ := d.GetMicrographs(ctx)
	names := make([]string, 0, len(mics))
	for _, mic := range mics {
		names = append(names, mic.Micrograph)
	}
	return names
}

func (d *scipionData) GetGridSquares(ctx context.Context) ([]GridSquare, error) {
	return groupGridSquares(d.micrographNames(ctx)), nil
}

func (d *scipionData) GetMicrographGridSquare(ctx context.Context, gsID string) (GridSquare, error) {
	squares := groupGridSquares(d.micrographNames(ctx))
	for _, gs := range squares {
		if gs.ID == gsID {
			return gs, nil
		}
	}
	return GridSquare{ID: gsID}, nil
}

func (d *scipionData) GetClasses2D(ctx context.Context, runID string) (Classes2D, error) {
	out := Classes2D{Selection: []int{}}
	for _, path := range d.classesDBs() {
		id := filepath.Base(filepath.Dir(path))
		out.Runs = append(out.Runs, RunRef{ID: id, Label: id})
	}
	if len(out.Runs) == 0 {
		return out, nil
	}
	target := out.Runs[len(out.Runs)-1]
	if runID != "" {
		for _, run := range out.Runs {
			if run.ID == runID {
				target = run
			}
		}
	}
	ds, cleanup, err := d.openDataset(ctx, d.path("Runs", target.ID, "classes2D.sqlite"))
	if err != nil {
		return out, nil
	}
	defer cleanup()
	rows, err := ds.rows(ctx, "_size", "_representative._filename", "_representative._index")
	if err != nil {
		return out, nil
	}
	for _, r := range rows {
		item := Class2D{ID: r.ID, Size: int(r.float("_size"))}
		if rep := r.Values["_representative._filename"]; rep != "" {
			index := int(r.float("_representative._index"))
			if avg, err := d.enc.EncodePNG(d.path(rep), index); err == nil {
				item.Average = avg
			}
		}
		out.Items = append(out.Items, item)
	}
	if selection := globLast(d.path("Runs", "*ProtRelionSelectClasses2D*", "extra", "class_averages.star")); selection != "" {
		out.Selection = selectedClassIDs(selection)
	}
	return out, nil
}

// Manifest statuses normalized to the adapter vocabulary.
var scipionStatuses = map[string]string{
	"finished": StatusFinished,
	"running":  StatusRunning,
	"aborted":  StatusAborted,
	"failed":   StatusFailed,
}

// manifestRow is one row of the project manifest's object table.
type manifestRow struct {
	ID        int
	ParentID  sql.NullInt64
	Name      string
	ClassName string
	Value     string
	Label     string
}

func (d *scipionData) manifestRows(ctx context.Context) ([]manifestRow, error) {
	db, cleanup, err := sqlitefile.OpenCopy(ctx, d.path(ProjectManifest), d.copyOpts)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	rows, err := db.QueryContext(ctx,
		`SELECT id, parent_id, name, classname, value, label FROM Objects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []manifestRow
	for rows.Next() {
		var r manifestRow
		var name, classname, value, label sql.NullString
		if err := rows.Scan(&r.ID, &r.ParentID, &name, &classname, &value, &label); err != nil {
			return nil, err
		}
		r.Name, r.ClassName, r.Value, r.Label = name.String, classname.String, value.String, label.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetWorkflow folds the manifest's parent-child rows into the process DAG:
// protocol rows become nodes, their status attribute rows set the node
// status, and each pointer row adds an edge from the protocol it references
// to the protocol holding it.
func (d *scipionData) GetWorkflow(ctx context.Context) ([]WorkflowNode, error) {
	rows, err := d.manifestRows(ctx)
	if err != nil {
		return nil, nil
	}
	byID := make(map[int]manifestRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	isProtocol := func(r manifestRow) bool {
		return strings.HasPrefix(r.ClassName, "Prot") && !r.ParentID.Valid
	}
	enclosing := func(r manifestRow) (manifestRow, bool) {
		for r.ParentID.Valid {
			parent, ok := byID[int(r.ParentID.Int64)]
			if !ok {
				return manifestRow{}, false
			}
			if isProtocol(parent) {
				return parent, true
			}
			r = parent
		}
		return manifestRow{}, false
	}

	var nodes []WorkflowNode
	index := map[int]int{}
	for _, r := range rows {
		if !isProtocol(r) {
			continue
		}
		label := r.Label
		if label == "" {
			label = r.ClassName
		}
		index[r.ID] = len(nodes)
		nodes = append(nodes, WorkflowNode{
			ID:     strconv.Itoa(r.ID),
			Label:  label,
			Status: StatusUnknown,
			Type:   r.ClassName,
			Links:  []string{},
		})
	}
	for _, r := range rows {
		owner, ok := enclosing(r)
		if !ok {
			continue
		}
		switch {
		case r.Name == "status" || strings.HasSuffix(r.Name, ".status"):
			if status, known := scipionStatuses[r.Value]; known {
				nodes[index[owner.ID]].Status = status
			}
		case r.ClassName == "Pointer" && r.Value != "":
			target, err := strconv.Atoi(r.Value)
			if err != nil {
				continue
			}
			if i, known := index[target]; known && target != owner.ID {
				nodes[i].Links = append(nodes[i].Links, strconv.Itoa(owner.ID))
			}
		}
	}
	return nodes, nil
}

func (d *scipionData) GetRun(ctx context.Context, runID string) (Run, error) {
	dir := globLast(d.path("Runs", runID+"_*"))
	if dir == "" {
		dir = d.path("Runs", runID)
	}
	run := Run{
		ID:     runID,
		Dir:    dir,
		Values: map[string]string{},
		StdOut: filepath.Join(dir, "logs", "run.stdout"),
		StdErr: filepath.Join(dir, "logs", "run.stderr"),
	}
	rows, err := d.manifestRows(ctx)
	if err != nil {
		return run, nil
	}
	id, err := strconv.Atoi(strings.TrimLeft(runID, "0"))
	if err != nil {
		return run, nil
	}
	for _, r := range rows {
		if r.ParentID.Valid && int(r.ParentID.Int64) == id && r.Name != "" && r.ClassName != "Pointer" {
			run.Values[r.Name] = r.Value
		}
	}
	return run, nil
}
