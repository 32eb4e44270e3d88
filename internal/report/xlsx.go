package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/playperu/simple5k/internal/tracker"
)

const lapsSheet = "Laps"

var (
	standingsHeader = []any{"Place", "Bib", "Name", "Age", "Gun time", "Chip time", "Pace (/mi)", "Speed (mph)", "Laps"}
	lapsHeader      = []any{"Bib", "Name", "Gender", "Lap", "Crossed at (UTC)", "Lap time", "Pace (/mi)", "Speed (mph)"}
)

// WriteXLSX writes one standings sheet per gender and a sheet of every
// counted lap.
func WriteXLSX(w io.Writer, res Results) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	first := true
	for _, g := range tracker.Genders {
		sheet := g.Label()
		if first {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("naming sheet %s: %w", sheet, err)
			}
			first = false
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("adding sheet %s: %w", sheet, err)
		}

		rows := [][]any{standingsHeader}
		for _, e := range res.Cohort(g) {
			rows = append(rows, []any{
				intCell(e.Place), intCell(e.Bib), e.Name, e.AgeBracket.Label(),
				clockCell(e.GunTime), clockCell(e.ChipTime), clockCell(e.Pace),
				speedCell(e.Speed), e.LapsDone,
			})
		}
		if err := writeRows(f, sheet, rows, bold); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(lapsSheet); err != nil {
		return fmt.Errorf("adding sheet %s: %w", lapsSheet, err)
	}
	rows := [][]any{lapsHeader}
	for _, e := range res.Entries {
		for _, s := range e.Splits {
			rows = append(rows, []any{
				intCell(e.Bib), e.Name, e.Gender.Label(), s.Lap,
				s.At.UTC().Format("15:04:05.000"),
				tracker.FormatClock(s.Duration), tracker.FormatClock(s.Pace),
				fmt.Sprintf("%.2f", s.Speed),
			})
		}
	}
	if err := writeRows(f, lapsSheet, rows, bold); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})
}

func intCell(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func clockCell(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return tracker.FormatClock(*d)
}

func speedCell(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}
