// Package report exports the journal of a run as a spreadsheet.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/utils"
)

const (
	outcomeSheet = "Outcomes"
	summarySheet = "Summary"
)

var outcomeHeader = []interface{}{"Title", "Status", "Remote", "Reasons", "Detail", "Updated (UTC)"}

// Build lays out a workbook with one row per outcome and a summary sheet.
func Build(run *models.Run, stats *models.Stats, outcomes []models.Outcome) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", outcomeSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeOutcomes(f, outcomes); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write outcomes: %w", err)
	}
	if err := writeSummary(f, run, stats); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	return f, nil
}

// Write saves the workbook of a run to path.
func Write(path string, run *models.Run, stats *models.Stats, outcomes []models.Outcome) error {
	f, err := Build(run, stats, outcomes)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeOutcomes(f *excelize.File, outcomes []models.Outcome) error {
	if err := f.SetSheetRow(outcomeSheet, "A1", &outcomeHeader); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(outcomeSheet, "A1", "F1", bold); err != nil {
		return err
	}

	for i, o := range outcomes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		updated := ""
		if !o.UpdatedAt.IsZero() {
			updated = o.UpdatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		row := []interface{}{o.Title, o.Status, o.RemoteTitle, strings.Join(o.Reasons, ", "), o.Detail, updated}
		if err := f.SetSheetRow(outcomeSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(outcomeSheet, "A", "A", 48); err != nil {
		return err
	}
	if err := f.SetColWidth(outcomeSheet, "C", "C", 48); err != nil {
		return err
	}
	if err := f.SetColWidth(outcomeSheet, "E", "E", 60); err != nil {
		return err
	}
	return f.AutoFilter(outcomeSheet, fmt.Sprintf("A1:F%d", len(outcomes)+1), nil)
}

func writeSummary(f *excelize.File, run *models.Run, stats *models.Stats) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][]interface{}{}
	if run != nil {
		rows = append(rows,
			[]interface{}{"Run", run.ID},
			[]interface{}{"Started (UTC)", run.StartedAt.UTC().Format("2006-01-02 15:04:05")},
			[]interface{}{"Candidates", run.Candidates},
		)
		if !run.FinishedAt.IsZero() {
			rows = append(rows, []interface{}{"Duration", utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt))})
		}
	}
	if stats != nil {
		rows = append(rows,
			[]interface{}{"Files", stats.TotalFiles},
			[]interface{}{models.StatusDeleted, stats.Deleted},
			[]interface{}{models.StatusTagged, stats.Tagged},
			[]interface{}{models.StatusSkipped, stats.Skipped},
			[]interface{}{models.StatusEligible, stats.Eligible},
			[]interface{}{models.StatusFailed, stats.Failed},
		)
		codes := make([]string, 0, len(stats.ByReason))
		for code := range stats.ByReason {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			rows = append(rows, []interface{}{"Reason " + code, stats.ByReason[code]})
		}
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 20)
}
