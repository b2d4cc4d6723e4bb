package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/exportd/errors"
	"github.com/teranos/exportd/export"
	"github.com/teranos/exportd/jobs"
	"github.com/teranos/exportd/warehouse"
)

// GateUnit selects how the gate threshold is aligned.
type GateUnit string

const (
	// GateUnitMonth requires every unit to have closed the previous month.
	GateUnitMonth GateUnit = "month"
	// GateUnitDay requires every unit to have reached today minus the offset.
	GateUnitDay GateUnit = "day"
)

// Threshold returns the date every unit must have reached.
func Threshold(today time.Time, daysOffset int, unit GateUnit) time.Time {
	d := Civil(today).AddDate(0, 0, -daysOffset)
	if unit == GateUnitDay {
		return d
	}
	return FirstOfMonth(d).AddDate(0, 0, -1)
}

// GateResult is the outcome of one gate check.
type GateResult struct {
	Ready     bool
	Open      []string // units still behind the threshold
	Threshold time.Time
}

// EvaluateRows checks gate rows of (unit, date). A single-column result is
// read as dates only. No rows means ready.
func EvaluateRows(cols []string, rows [][]any, threshold time.Time) (GateResult, error) {
	res := GateResult{Threshold: threshold}
	if len(cols) == 0 {
		return res, errors.Mark(errors.New("gating query returned no columns"), errors.ErrGate)
	}
	dateIdx := 1
	if len(cols) == 1 {
		dateIdx = 0
	}
	for i, row := range rows {
		unit := fmt.Sprintf("row %d", i+1)
		if dateIdx > 0 && len(row) > 0 {
			unit = export.FormatValue(row[0])
		}
		if dateIdx >= len(row) {
			return res, errors.Mark(errors.Newf("gating row for %s has no date", unit), errors.ErrGate)
		}
		d, ok := export.ParseDate(row[dateIdx])
		if !ok {
			return res, errors.Mark(
				errors.Newf("gating row for %s has unreadable date %q", unit, export.FormatValue(row[dateIdx])),
				errors.ErrGate)
		}
		if d.Before(threshold) {
			res.Open = append(res.Open, unit)
		}
	}
	res.Ready = len(res.Open) == 0
	return res, nil
}

// ParameterSource loads gating parameters.
type ParameterSource interface {
	GetGatingParameter(ctx context.Context, id int64) (*jobs.GatingParameter, error)
}

// Gate evaluates job preconditions against the warehouse.
type Gate struct {
	params    ParameterSource
	connector warehouse.Connector
	unit      GateUnit
	fetchSize int
}

// NewGate creates a gate evaluator. An empty or unknown unit means GateUnitDay.
func NewGate(params ParameterSource, connector warehouse.Connector, unit GateUnit, fetchSize int) *Gate {
	if unit != GateUnitMonth {
		unit = GateUnitDay
	}
	if fetchSize <= 0 {
		fetchSize = export.DefaultFetchSize
	}
	return &Gate{params: params, connector: connector, unit: unit, fetchSize: fetchSize}
}

// Evaluate runs job's gating query on its own connection. Every error is
// marked as a gate error.
func (g *Gate) Evaluate(ctx context.Context, job jobs.Job, today time.Time) (GateResult, error) {
	threshold := Threshold(today, job.DaysOffset, g.unit)
	if !job.Gated() {
		return GateResult{Ready: true, Threshold: threshold}, nil
	}

	res, err := g.evaluate(ctx, *job.ParameterID, threshold)
	if err != nil {
		return GateResult{Threshold: threshold}, errors.Mark(
			errors.Wrapf(err, "gate of job %d", job.ID), errors.ErrGate)
	}
	return res, nil
}

func (g *Gate) evaluate(ctx context.Context, paramID int64, threshold time.Time) (GateResult, error) {
	param, err := g.params.GetGatingParameter(ctx, paramID)
	if err != nil {
		return GateResult{}, err
	}
	if err := export.CheckReadOnly(param.Query); err != nil {
		return GateResult{}, errors.Wrapf(err, "parameter %s", param.Name)
	}

	conn, err := g.connector.Connect(ctx)
	if err != nil {
		return GateResult{}, err
	}
	defer conn.Close()

	cur, err := conn.Query(ctx, param.Query)
	if err != nil {
		return GateResult{}, err
	}
	defer cur.Close()

	var rows [][]any
	for {
		batch, err := cur.Next(g.fetchSize)
		if err != nil {
			return GateResult{}, err
		}
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)
	}
	return EvaluateRows(cur.Columns(), rows, threshold)
}

// OpenUnits renders the units still behind, for logs.
func (r GateResult) OpenUnits() string {
	return strings.Join(r.Open, ", ")
}
