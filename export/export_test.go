package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/jobs"
)

// sliceCursor serves fixed rows, optionally failing after failAfter batches.
type sliceCursor struct {
	cols      []string
	rows      [][]any
	pos       int
	batches   int
	failAfter int
}

func (c *sliceCursor) Columns() []string { return c.cols }
func (c *sliceCursor) Close() error      { return nil }

func (c *sliceCursor) Next(n int) ([][]any, error) {
	if c.failAfter > 0 && c.batches == c.failAfter {
		return nil, errors.New("connection reset by peer")
	}
	c.batches++
	end := c.pos + n
	if end > len(c.rows) {
		end = len(c.rows)
	}
	batch := c.rows[c.pos:end]
	c.pos = end
	return batch, nil
}

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func salesCursor(rows ...[]any) *sliceCursor {
	return &sliceCursor{cols: []string{"day", "branch", "amount"}, rows: rows}
}

func TestExport_OnceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branches.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale;content\n"), 0644))

	e := NewExporter(';', 2)
	req := Request{Policy: jobs.PolicyOnce, Dir: dir, Name: "branches"}
	res, err := e.Export(context.Background(), salesCursor(
		[]any{day("2024-03-01"), "A", 10.5},
		[]any{day("2024-03-02"), "B", int64(3)},
		[]any{day("2024-03-03"), "C; D", nil},
	), req)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t, []string{path}, res.Files)
	assert.Equal(t, "day;branch;amount\n2024-03-01;A;10.5\n2024-03-02;B;3\n2024-03-03;\"C; D\";\n", readFile(t, path))
}

func TestExport_OnceIsByteIdenticalOnRerun(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(';', 10)
	req := Request{Policy: jobs.PolicyOnce, Dir: dir, Name: "x"}
	rows := [][]any{{day("2024-01-05"), "A", 1.25}, {day("2024-01-06"), "B", 2.0}}

	_, err := e.Export(context.Background(), salesCursor(rows...), req)
	require.NoError(t, err)
	first := readFile(t, req.Path())

	_, err = e.Export(context.Background(), salesCursor(rows...), req)
	require.NoError(t, err)
	assert.Equal(t, first, readFile(t, req.Path()))
}

func TestExport_OnceEmptyResultWritesHeader(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyOnce, Dir: dir, Name: "empty"}
	res, err := NewExporter(';', 10).Export(context.Background(), salesCursor(), req)
	require.NoError(t, err)
	assert.Zero(t, res.Rows)
	assert.Equal(t, "day;branch;amount\n", readFile(t, req.Path()))
}

func TestExport_AccumulateReplacesWindow(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyAccumulate, Dir: dir, Name: "history", DateColumn: "day", Initial: day("2024-03-01")}
	require.NoError(t, os.WriteFile(req.Path(), []byte(
		"day;branch;amount\n"+
			"2024-01-15;A;1\n"+
			"2024-02-29;B;2\n"+
			"2024-03-01;A;3\n"+
			"2024-03-31;B;4\n"+
			"unknown;C;5\n"), 0644))

	res, err := NewExporter(';', 1).Export(context.Background(), salesCursor(
		[]any{day("2024-03-01"), "A", 30},
		[]any{day("2024-03-31"), "B", 40},
		[]any{day("2024-04-02"), "A", 50},
	), req)
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t,
		"day;branch;amount\n"+
			"2024-01-15;A;1\n"+
			"2024-02-29;B;2\n"+
			"unknown;C;5\n"+
			"2024-03-01;A;30\n"+
			"2024-03-31;B;40\n"+
			"2024-04-02;A;50\n",
		readFile(t, req.Path()))
}

func TestExport_AccumulateWithoutPriorFile(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyAccumulate, Dir: filepath.Join(dir, "nested"), Name: "h", Initial: day("2024-03-01")}

	_, err := NewExporter(',', 10).Export(context.Background(), salesCursor(
		[]any{"2024-03-02", "A", 1},
	), req)
	require.NoError(t, err)
	assert.Equal(t, "day,branch,amount\n2024-03-02,A,1\n", readFile(t, req.Path()))
}

func TestExport_AccumulateFindsDateColumnByName(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyAccumulate, Dir: dir, Name: "h", DateColumn: "DAY", Initial: day("2024-03-01")}
	require.NoError(t, os.WriteFile(req.Path(), []byte("branch;day\nA;2024-02-01\nB;2024-03-05\n"), 0644))

	cur := &sliceCursor{cols: []string{"branch", "day"}, rows: [][]any{{"B", day("2024-03-06")}}}
	_, err := NewExporter(';', 10).Export(context.Background(), cur, req)
	require.NoError(t, err)
	assert.Equal(t, "branch;day\nA;2024-02-01\nB;2024-03-06\n", readFile(t, req.Path()))
}

func TestExport_AccumulateRealignsReorderedColumns(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyAccumulate, Dir: dir, Name: "h", Initial: day("2024-03-01")}
	require.NoError(t, os.WriteFile(req.Path(), []byte(
		"amount;day;region\n"+
			"1;2024-02-10;north\n"+
			"2;2024-03-02;south\n"), 0644))

	_, err := NewExporter(';', 10).Export(context.Background(), salesCursor(
		[]any{day("2024-03-03"), "B", 7},
	), req)
	require.NoError(t, err)
	assert.Equal(t,
		"day;branch;amount\n"+
			"2024-02-10;;1\n"+
			"2024-03-03;B;7\n",
		readFile(t, req.Path()))
}

func TestExport_AccumulateRejectsUnrelatedPriorFile(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyAccumulate, Dir: dir, Name: "h", Initial: day("2024-03-01")}
	prior := "code;label\nX;old\n"
	require.NoError(t, os.WriteFile(req.Path(), []byte(prior), 0644))

	_, err := NewExporter(';', 10).Export(context.Background(), salesCursor(
		[]any{day("2024-03-03"), "B", 7},
	), req)
	assert.True(t, errors.Is(err, errors.ErrExport))
	assert.Equal(t, prior, readFile(t, req.Path()))
}

func TestExport_MonthlyIsByteIdenticalOnRerun(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(';', 2)
	req := Request{Policy: jobs.PolicyMonthly, Dir: dir, Name: "sales", DateColumn: "day"}
	rows := [][]any{
		{day("2024-02-28"), "A", 1.25},
		{day("2024-03-01"), "B", 2.0},
		{day("2024-02-29"), "C", nil},
		{day("2024-03-31"), "D", "x;y"},
	}

	res, err := e.Export(context.Background(), &sliceCursor{cols: []string{"day", "branch", "amount"}, rows: rows}, req)
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	first := make(map[string]string, len(res.Files))
	for _, f := range res.Files {
		first[f] = readFile(t, f)
	}

	again, err := e.Export(context.Background(), &sliceCursor{cols: []string{"day", "branch", "amount"}, rows: rows}, req)
	require.NoError(t, err)
	assert.Equal(t, res.Files, again.Files)
	for _, f := range again.Files {
		assert.Equal(t, first[f], readFile(t, f), f)
	}
}

func TestExport_MonthlySplitsByMonth(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyMonthly, Dir: dir, Name: "sales", DateColumn: "day"}

	res, err := NewExporter(';', 2).Export(context.Background(), salesCursor(
		[]any{day("2024-02-28"), "A", 1},
		[]any{day("2024-03-01"), "B", 2},
		[]any{day("2024-02-29"), "C", 3},
		[]any{"2024-03-02", "D", 4},
	), req)
	require.NoError(t, err)

	feb := filepath.Join(dir, "sales 02.2024.csv")
	mar := filepath.Join(dir, "sales 03.2024.csv")
	assert.Equal(t, int64(4), res.Rows)
	assert.Equal(t, []string{feb, mar}, res.Files)
	assert.Equal(t, "day;branch;amount\n2024-02-28;A;1\n2024-02-29;C;3\n", readFile(t, feb))
	assert.Equal(t, "day;branch;amount\n2024-03-01;B;2\n2024-03-02;D;4\n", readFile(t, mar))
}

func TestExport_MonthlyOrdersFilesAcrossYears(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyMonthly, Dir: dir, Name: "s"}

	res, err := NewExporter(';', 10).Export(context.Background(), salesCursor(
		[]any{day("2024-01-03"), "A", 1},
		[]any{day("2023-12-30"), "B", 2},
	), req)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "s 12.2023.csv"),
		filepath.Join(dir, "s 01.2024.csv"),
	}, res.Files)
}

func TestExport_MonthlyRejectsUndatedRow(t *testing.T) {
	dir := t.TempDir()
	req := Request{Policy: jobs.PolicyMonthly, Dir: dir, Name: "s"}

	_, err := NewExporter(';', 10).Export(context.Background(), salesCursor(
		[]any{day("2024-01-03"), "A", 1},
		[]any{nil, "B", 2},
	), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExport))
	assertNoCSV(t, dir)
}

func TestExport_MonthlyUnknownDateColumn(t *testing.T) {
	req := Request{Policy: jobs.PolicyMonthly, Dir: t.TempDir(), Name: "s", DateColumn: "posted_on"}
	_, err := NewExporter(';', 10).Export(context.Background(), salesCursor(), req)
	assert.True(t, errors.Is(err, errors.ErrDefinition))
}

func TestExport_FetchFailureLeavesDestinationIntact(t *testing.T) {
	for _, policy := range []jobs.Policy{jobs.PolicyOnce, jobs.PolicyAccumulate} {
		t.Run(string(policy), func(t *testing.T) {
			dir := t.TempDir()
			req := Request{Policy: policy, Dir: dir, Name: "keep", Initial: day("2024-03-01")}
			original := "day;branch;amount\n2024-01-01;A;1\n"
			require.NoError(t, os.WriteFile(req.Path(), []byte(original), 0644))

			cur := salesCursor([]any{day("2024-03-01"), "A", 1}, []any{day("2024-03-02"), "B", 2})
			cur.failAfter = 1

			_, err := NewExporter(';', 1).Export(context.Background(), cur, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrExtraction))
			assert.Equal(t, original, readFile(t, req.Path()))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary file left behind")
		})
	}
}

func TestExport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := Request{Policy: jobs.PolicyOnce, Dir: t.TempDir(), Name: "c"}
	_, err := NewExporter(';', 10).Export(ctx, salesCursor([]any{"2024-01-01", "A", 1}), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assertNoCSV(t, req.Dir)
}

func TestExport_UnknownPolicy(t *testing.T) {
	_, err := NewExporter(';', 10).Export(context.Background(), salesCursor(), Request{Policy: "weekly", Dir: t.TempDir(), Name: "x"})
	assert.True(t, errors.Is(err, errors.ErrDefinition))
}

func assertNoCSV(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
