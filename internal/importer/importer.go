package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/supervision-cli/internal/model"
)

// Raw inspection columns and accepted header aliases.
var rawAliases = map[string][]string{
	"submission_id":     {"submission", "id_envio", "folio"},
	"location_name":     {"sucursal", "location", "ubicacion"},
	"area_evaluacion":   {"area", "area_evaluada"},
	"puntos_maximos":    {"puntos_max", "max_points"},
	"puntos_obtenidos":  {"puntos", "points"},
	"porcentaje":        {"percentage", "calificacion"},
	"fecha_supervision": {"fecha", "date", "supervised_at"},
	"grupo_operativo":   {"grupo", "operating_group"},
	"estado":            {"state"},
}

var rawRequired = []string{"submission_id", "location_name"}

// Registry columns and accepted header aliases.
var registryAliases = map[string][]string{
	"numero_sucursal": {"numero", "branch_code", "codigo"},
	"nombre_sucursal": {"nombre", "branch_name"},
	"grupo_operativo": {"grupo", "operating_group"},
	"ciudad":          {"municipio", "city"},
	"estado":          {"state"},
	"latitude":        {"latitud", "lat"},
	"longitude":       {"longitud", "lng", "lon"},
}

var registryRequired = []string{"numero_sucursal", "nombre_sucursal"}

// Options configures an Importer.
type Options struct {
	// Location interprets timestamps that carry no zone.
	Location *time.Location
	CSV      CSVOptions
	XLSX     XLSXOptions
	// Workers bounds how many files are read at once. Default 4.
	Workers int
}

// Importer reads export files.
type Importer struct {
	opts Options
	log  *zap.Logger
}

// New creates an Importer.
func New(opts Options) *Importer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CSV.Delimiter == 0 {
		opts.CSV.Sniff = true
	}
	return &Importer{opts: opts, log: zap.L().With(zap.String("component", "importer"))}
}

// RawResult holds the rows read from one or more raw export files.
type RawResult struct {
	Rows   []model.RawInspectionRow
	Issues []Issue
}

// RegistryResult holds the branches read from registry files.
type RegistryResult struct {
	Branches []model.CanonicalBranch
	Issues   []Issue
}

// ReadRaw reads raw inspection exports concurrently. Rows keep file order,
// then line order.
func (im *Importer) ReadRaw(ctx context.Context, paths ...string) (*RawResult, error) {
	parts := make([]*RawResult, len(paths))
	err := im.each(ctx, paths, func(ctx context.Context, i int, path string) error {
		res, err := im.readRawFile(ctx, path)
		parts[i] = res
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &RawResult{}
	for _, p := range parts {
		out.Rows = append(out.Rows, p.Rows...)
		out.Issues = append(out.Issues, p.Issues...)
	}
	im.log.Info("raw export read",
		zap.Int("files", len(paths)),
		zap.Int("rows", len(out.Rows)),
		zap.Int("issues", len(out.Issues)),
	)
	return out, nil
}

// ReadRegistry reads branch registry files. A code appearing twice keeps
// its first row and reports an issue for the rest.
func (im *Importer) ReadRegistry(ctx context.Context, paths ...string) (*RegistryResult, error) {
	parts := make([]*RegistryResult, len(paths))
	err := im.each(ctx, paths, func(ctx context.Context, i int, path string) error {
		res, err := im.readRegistryFile(ctx, path)
		parts[i] = res
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &RegistryResult{}
	seen := make(map[int]bool)
	for _, p := range parts {
		out.Issues = append(out.Issues, p.Issues...)
		for _, b := range p.Branches {
			if seen[b.Code] {
				out.Issues = append(out.Issues, Issue{Column: "numero_sucursal", Value: strconv.Itoa(b.Code), Reason: "duplicate_branch_code"})
				continue
			}
			seen[b.Code] = true
			out.Branches = append(out.Branches, b)
		}
	}
	sort.Slice(out.Branches, func(i, j int) bool { return out.Branches[i].Code < out.Branches[j].Code })
	return out, nil
}

func (im *Importer) each(ctx context.Context, paths []string, fn func(ctx context.Context, i int, path string) error) error {
	if len(paths) == 0 {
		return eris.New("importer: no input files")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			return fn(gctx, i, path)
		})
	}
	return g.Wait()
}

// stream opens path as CSV or XLSX by extension.
func (im *Importer) stream(ctx context.Context, path string) (<-chan []string, <-chan error, func(), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, errs := StreamXLSX(ctx, path, im.opts.XLSX)
		return rows, errs, func() {}, nil
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, nil, eris.Wrapf(err, "importer: open %s", path)
		}
		rows, errs := StreamCSV(ctx, f, im.opts.CSV)
		return rows, errs, func() { f.Close() }, nil //nolint:errcheck
	default:
		return nil, nil, nil, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
}

// consume feeds each record to fn with its 1-based line number, then waits
// for the stream error.
func consume(rows <-chan []string, errs <-chan error, fn func(line int, record []string)) error {
	line := 0
	for record := range rows {
		line++
		fn(line, record)
	}
	return <-errs
}

func (im *Importer) readRawFile(ctx context.Context, path string) (*RawResult, error) {
	rows, errs, closeFn, err := im.stream(ctx, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	res := &RawResult{}
	var (
		h       header
		missing []string
	)
	name := filepath.Base(path)
	err = consume(rows, errs, func(line int, record []string) {
		if h == nil {
			h = newHeader(record, rawAliases)
			missing = h.missing(rawRequired)
			return
		}
		if missing != nil || blank(record) {
			return
		}
		row, issues := parseRawRecord(h, record, im.opts.Location)
		for _, is := range issues {
			is.File, is.Line = name, line
			res.Issues = append(res.Issues, is)
		}
		if row.SubmissionID == "" {
			return
		}
		res.Rows = append(res.Rows, row)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read %s", path)
	}
	if h == nil {
		return nil, eris.Errorf("importer: %s is empty", path)
	}
	if missing != nil {
		return nil, eris.Errorf("importer: %s missing columns %s", path, strings.Join(missing, ", "))
	}
	return res, nil
}

// parseRawRecord converts one record. Bad numbers and dates become nil or
// zero with an issue; a missing submission id drops the row.
func parseRawRecord(h header, record []string, loc *time.Location) (model.RawInspectionRow, []Issue) {
	var issues []Issue
	row := model.RawInspectionRow{
		SubmissionID:  h.get(record, "submission_id"),
		RawBranchName: h.get(record, "location_name"),
		AreaName:      h.get(record, "area_evaluacion"),
		ReportedGroup: h.get(record, "grupo_operativo"),
		ReportedState: h.get(record, "estado"),
	}
	if row.SubmissionID == "" {
		issues = append(issues, Issue{Column: "submission_id", Reason: ReasonMissingID})
	}

	num := func(col string) *float64 {
		raw := h.get(record, col)
		v, ok := parseNumber(raw)
		if !ok {
			issues = append(issues, Issue{Column: col, Value: raw, Reason: ReasonBadNumber})
		}
		return v
	}
	row.PointsPossible = num("puntos_maximos")
	row.PointsObtained = num("puntos_obtenidos")
	row.Percentage = num("porcentaje")

	rawDate := h.get(record, "fecha_supervision")
	at, ok := parseDate(rawDate, loc)
	if !ok {
		issues = append(issues, Issue{Column: "fecha_supervision", Value: rawDate, Reason: ReasonBadDate})
	}
	row.SupervisedAt = at
	return row, issues
}

func (im *Importer) readRegistryFile(ctx context.Context, path string) (*RegistryResult, error) {
	rows, errs, closeFn, err := im.stream(ctx, path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	res := &RegistryResult{}
	var (
		h       header
		missing []string
	)
	name := filepath.Base(path)
	err = consume(rows, errs, func(line int, record []string) {
		if h == nil {
			h = newHeader(record, registryAliases)
			missing = h.missing(registryRequired)
			return
		}
		if missing != nil || blank(record) {
			return
		}
		b, issues, ok := parseRegistryRecord(h, record)
		for _, is := range issues {
			is.File, is.Line = name, line
			res.Issues = append(res.Issues, is)
		}
		if ok {
			res.Branches = append(res.Branches, b)
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "importer: read %s", path)
	}
	if h == nil {
		return nil, eris.Errorf("importer: %s is empty", path)
	}
	if missing != nil {
		return nil, eris.Errorf("importer: %s missing columns %s", path, strings.Join(missing, ", "))
	}
	return res, nil
}

// parseRegistryRecord converts one registry record. Rows without a positive
// integer code or a name are skipped.
func parseRegistryRecord(h header, record []string) (model.CanonicalBranch, []Issue, bool) {
	var issues []Issue
	rawCode := h.get(record, "numero_sucursal")
	code, err := strconv.Atoi(strings.TrimSuffix(rawCode, ".0"))
	if err != nil || code <= 0 {
		return model.CanonicalBranch{}, []Issue{{Column: "numero_sucursal", Value: rawCode, Reason: ReasonBadCode}}, false
	}
	b := model.CanonicalBranch{
		Code:           code,
		Name:           h.get(record, "nombre_sucursal"),
		OperatingGroup: h.get(record, "grupo_operativo"),
		Municipality:   h.get(record, "ciudad"),
		State:          h.get(record, "estado"),
	}
	if b.Name == "" {
		return model.CanonicalBranch{}, []Issue{{Column: "nombre_sucursal", Value: rawCode, Reason: ReasonMissingName}}, false
	}

	rawLat, rawLng := h.get(record, "latitude"), h.get(record, "longitude")
	lat, latOK := parseNumber(rawLat)
	lng, lngOK := parseNumber(rawLng)
	if !latOK {
		issues = append(issues, Issue{Column: "latitude", Value: rawLat, Reason: ReasonBadNumber})
	}
	if !lngOK {
		issues = append(issues, Issue{Column: "longitude", Value: rawLng, Reason: ReasonBadNumber})
	}
	switch {
	case lat != nil && lng != nil:
		b.Coordinates = &model.Coordinates{Lat: *lat, Lng: *lng}
	case latOK && lngOK && (lat != nil || lng != nil):
		issues = append(issues, Issue{Column: "latitude", Value: rawLat + "," + rawLng, Reason: ReasonPartialCoords})
	}
	return b, issues, true
}
