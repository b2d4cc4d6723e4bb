package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/warehouse"
)

// DefaultFetchSize is the number of rows pulled from the warehouse per batch.
const DefaultFetchSize = 5000

// Request describes where and how one result is written.
type Request struct {
	Policy     jobs.Policy
	Dir        string
	Name       string    // base name without extension
	DateColumn string    // empty means the first column
	Initial    time.Time // window start, used by Accumulate
}

// Result summarizes a completed export.
type Result struct {
	Rows     int64
	Files    []string
	Duration time.Duration
}

// Exporter streams cursors into CSV files.
type Exporter struct {
	Comma     rune
	FetchSize int
	now       func() time.Time
}

// NewExporter creates an exporter. Zero values fall back to ';' and DefaultFetchSize.
func NewExporter(comma rune, fetchSize int) *Exporter {
	if comma == 0 {
		comma = ';'
	}
	if fetchSize <= 0 {
		fetchSize = DefaultFetchSize
	}
	return &Exporter{Comma: comma, FetchSize: fetchSize, now: time.Now}
}

// Path returns the single-file destination of req.
func (r Request) Path() string {
	return filepath.Join(r.Dir, r.Name+".csv")
}

// MonthPath returns the destination of the month file for month.
func (r Request) MonthPath(month time.Time) string {
	return filepath.Join(r.Dir, r.Name+" "+MonthKey(month)+".csv")
}

// Export writes cur according to req.Policy. On error no destination file
// is changed.
func (e *Exporter) Export(ctx context.Context, cur warehouse.Cursor, req Request) (Result, error) {
	start := e.now()
	var res Result
	var err error

	switch req.Policy {
	case jobs.PolicyOnce:
		res, err = e.exportOnce(ctx, cur, req)
	case jobs.PolicyAccumulate:
		res, err = e.exportAccumulate(ctx, cur, req)
	case jobs.PolicyMonthly:
		res, err = e.exportMonthly(ctx, cur, req)
	default:
		err = errors.NewDefinitionError("unknown export policy %q", req.Policy)
	}
	if err != nil {
		return Result{}, err
	}
	res.Duration = e.now().Sub(start)
	return res, nil
}

// each feeds every fetched row to fn, batch by batch.
func (e *Exporter) each(ctx context.Context, cur warehouse.Cursor, fn func(row []any) error) (int64, error) {
	var n int64
	for {
		if err := ctx.Err(); err != nil {
			return n, errors.Mark(errors.Wrap(err, "export interrupted"), errors.ErrExtraction)
		}
		batch, err := cur.Next(e.FetchSize)
		if err != nil {
			return n, errors.Mark(err, errors.ErrExtraction)
		}
		if len(batch) == 0 {
			return n, nil
		}
		for _, row := range batch {
			if err := fn(row); err != nil {
				return n, err
			}
			n++
		}
	}
}

func (e *Exporter) exportOnce(ctx context.Context, cur warehouse.Cursor, req Request) (Result, error) {
	out, err := createAtomicCSV(req.Path(), e.Comma)
	if err != nil {
		return Result{}, err
	}
	defer out.Abort()

	if err := out.Write(cur.Columns()); err != nil {
		return Result{}, err
	}
	n, err := e.each(ctx, cur, func(row []any) error {
		return out.Write(FormatRow(row))
	})
	if err != nil {
		return Result{}, err
	}
	if err := out.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Rows: n, Files: []string{req.Path()}}, nil
}

// exportAccumulate keeps prior rows dated before the window start and
// appends the fresh window. Prior rows whose date cannot be read are kept.
// Prior rows are realigned to the current header by column name.
func (e *Exporter) exportAccumulate(ctx context.Context, cur warehouse.Cursor, req Request) (Result, error) {
	path := req.Path()
	out, err := createAtomicCSV(path, e.Comma)
	if err != nil {
		return Result{}, err
	}
	defer out.Abort()

	cols := cur.Columns()
	if err := out.Write(cols); err != nil {
		return Result{}, err
	}

	if err := e.copyPriorRows(path, req, cols, out); err != nil {
		return Result{}, err
	}

	n, err := e.each(ctx, cur, func(row []any) error {
		return out.Write(FormatRow(row))
	})
	if err != nil {
		return Result{}, err
	}
	if err := out.Commit(); err != nil {
		return Result{}, err
	}
	return Result{Rows: n, Files: []string{path}}, nil
}

func (e *Exporter) copyPriorRows(path string, req Request, cols []string, out *atomicCSV) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Mark(errors.Wrapf(err, "open %s", path), errors.ErrExport)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = e.Comma
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "read header of %s", path), errors.ErrExport)
	}
	dateColumn := req.DateColumn
	if dateColumn == "" && len(cols) > 0 {
		dateColumn = cols[0]
	}
	idx := columnIndex(header, dateColumn)
	if idx < 0 {
		idx = columnIndex(cols, dateColumn)
	}
	if idx < 0 {
		idx = 0
	}
	layout, err := alignColumns(header, cols)
	if err != nil {
		return errors.Wrapf(err, "realign %s", path)
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "read %s", path), errors.ErrExport)
		}
		if idx < len(rec) {
			if d, ok := ParseDate(rec[idx]); ok && !d.Before(req.Initial) {
				continue
			}
		}
		if layout != nil {
			rec = project(rec, layout)
		}
		if err := out.Write(rec); err != nil {
			return err
		}
	}
}

// alignColumns maps each of cols to its position in header, -1 when absent.
// A nil layout means header already matches cols.
func alignColumns(header, cols []string) ([]int, error) {
	layout := make([]int, len(cols))
	same := len(header) == len(cols)
	matched := 0
	for i, c := range cols {
		layout[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(c)) {
				layout[i] = j
				break
			}
		}
		if layout[i] >= 0 {
			matched++
		}
		if layout[i] != i {
			same = false
		}
	}
	if same {
		return nil, nil
	}
	if matched == 0 {
		return nil, errors.Mark(errors.Newf("prior header %v shares no column with %v", header, cols), errors.ErrExport)
	}
	return layout, nil
}

func project(rec []string, layout []int) []string {
	out := make([]string, len(layout))
	for i, j := range layout {
		if j >= 0 && j < len(rec) {
			out[i] = rec[j]
		}
	}
	return out
}

// exportMonthly partitions rows by the month of their date column, one file
// per month. Every month present in the result is rewritten whole.
func (e *Exporter) exportMonthly(ctx context.Context, cur warehouse.Cursor, req Request) (Result, error) {
	cols := cur.Columns()
	idx := columnIndex(cols, req.DateColumn)
	if idx < 0 {
		if req.DateColumn != "" {
			return Result{}, errors.NewDefinitionError("date column %q not in result", req.DateColumn)
		}
		idx = 0
	}

	outs := make(map[string]*atomicCSV)
	paths := make(map[string]string)
	defer func() {
		for _, out := range outs {
			out.Abort()
		}
	}()

	n, err := e.each(ctx, cur, func(row []any) error {
		if idx >= len(row) {
			return errors.Mark(errors.Newf("row has no column %d", idx), errors.ErrExport)
		}
		d, ok := ParseDate(row[idx])
		if !ok {
			return errors.Mark(errors.Newf("cannot read a date from %q in column %s", FormatValue(row[idx]), cols[idx]), errors.ErrExport)
		}
		key := MonthKey(d)
		out, ok := outs[key]
		if !ok {
			path := req.MonthPath(d)
			var err error
			if out, err = createAtomicCSV(path, e.Comma); err != nil {
				return err
			}
			outs[key] = out
			paths[key] = path
			if err := out.Write(cols); err != nil {
				return err
			}
		}
		return out.Write(FormatRow(row))
	})
	if err != nil {
		return Result{}, err
	}

	keys := make([]string, 0, len(outs))
	for k := range outs {
		keys = append(keys, k)
	}
	// Chronological order: keys are MM.YYYY
	sort.Slice(keys, func(i, j int) bool {
		return keys[i][3:]+keys[i][:2] < keys[j][3:]+keys[j][:2]
	})

	files := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := outs[k].Commit(); err != nil {
			return Result{}, err
		}
		files = append(files, paths[k])
	}
	return Result{Rows: n, Files: files}, nil
}

// columnIndex finds name in cols case-insensitively. Empty name finds nothing.
func columnIndex(cols []string, name string) int {
	if name == "" {
		return -1
	}
	for i, c := range cols {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return i
		}
	}
	return -1
}
