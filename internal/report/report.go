// Package report exports a learner's course progress as an xlsx workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-learn/internal/progress"
)

const (
	SummarySheet = "Summary"
	TopicsSheet  = "Topics"
)

// ContentType is the media type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var topicHeader = []any{"Module", "Unlocked", "Topic", "Completed", "Mastered", "Score %", "Video", "Resources"}

// WriteWorkbook writes the outline as a workbook with a summary sheet and one
// row per topic.
func WriteWorkbook(w io.Writer, o progress.Outline) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	topics, err := f.NewSheet(TopicsSheet)
	if err != nil {
		return fmt.Errorf("create topics sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	if err := writeSummary(f, o, bold); err != nil {
		return err
	}
	if err := writeTopics(f, o, bold); err != nil {
		return err
	}

	f.SetActiveSheet(topics)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, o progress.Outline, bold int) error {
	rows := [][]any{
		{"Enrollment", o.EnrollmentID},
		{"Course", o.CourseName},
		{"Knowledge level", o.KnowledgeLevel},
		{"Topics", o.TopicCount},
		{"Completed", o.CompletedCount},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("style summary: %w", err)
	}
	return f.SetColWidth(SummarySheet, "A", "B", 24)
}

func writeTopics(f *excelize.File, o progress.Outline, bold int) error {
	if err := f.SetSheetRow(TopicsSheet, "A1", &topicHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(TopicsSheet, "A1", "H1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetPanes(TopicsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	row := 2
	for _, m := range o.Modules {
		for _, t := range m.Topics {
			values := []any{
				m.Name,
				yesNo(m.Unlocked),
				t.Name,
				yesNo(t.Completed),
				yesNo(t.Mastered),
				"",
				"",
				t.Resources,
			}
			if t.Score != nil {
				values[5] = *t.Score
			}
			if t.Video != nil {
				values[6] = string(t.Video.Status)
			}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(TopicsSheet, cell, &values); err != nil {
				return fmt.Errorf("write topic row %d: %w", row, err)
			}
			row++
		}
	}
	if err := f.SetColWidth(TopicsSheet, "A", "A", 24); err != nil {
		return err
	}
	return f.SetColWidth(TopicsSheet, "C", "C", 32)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
