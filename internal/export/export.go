// Package export writes submissions and feedback to an XLSX workbook for
// operators.
package export

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/opsprofile/internal/model"
	"github.com/sells-group/opsprofile/internal/store"
)

// Sheet names.
const (
	SubmissionsSheet = "Submissions"
	FeedbackSheet    = "Feedback"
)

const pageSize = 500

var (
	submissionHeader = []string{
		"Job ID", "Company", "URL", "Email", "Status", "Review Reason",
		"Client IP", "Created At", "Completed At",
	}
	feedbackHeader = []string{"ID", "Profile ID", "Rating", "Comment", "Created At"}
)

// Source lists the records to export.
type Source interface {
	ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]model.Submission, error)
	ListFeedback(ctx context.Context, limit int) ([]model.Feedback, error)
}

// Options narrows the export.
type Options struct {
	Statuses      []model.Status
	FeedbackLimit int
}

// Summary reports how many rows were written per sheet.
type Summary struct {
	Submissions int
	Feedback    int
}

// WriteFile builds the workbook and saves it to path.
func WriteFile(ctx context.Context, src Source, path string, opts Options) (Summary, error) {
	f, err := os.Create(path)
	if err != nil {
		return Summary{}, eris.Wrapf(err, "export: create %s", path)
	}
	sum, err := Write(ctx, src, f, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrapf(cerr, "export: close %s", path)
	}
	return sum, err
}

// Write builds the workbook and streams it to w.
func Write(ctx context.Context, src Source, w io.Writer, opts Options) (Summary, error) {
	book := xlsx.NewFile()
	var sum Summary

	subs, err := addSheet(book, SubmissionsSheet, submissionHeader)
	if err != nil {
		return sum, err
	}
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "export: canceled")
		}
		page, err := src.ListSubmissions(ctx, store.SubmissionFilter{
			Statuses: opts.Statuses,
			Limit:    pageSize,
			Offset:   offset,
		})
		if err != nil {
			return sum, eris.Wrap(err, "export: list submissions")
		}
		for i := range page {
			addRow(subs, submissionRow(&page[i]))
		}
		sum.Submissions += len(page)
		if len(page) < pageSize {
			break
		}
	}

	fbSheet, err := addSheet(book, FeedbackSheet, feedbackHeader)
	if err != nil {
		return sum, err
	}
	feedback, err := src.ListFeedback(ctx, opts.FeedbackLimit)
	if err != nil {
		return sum, eris.Wrap(err, "export: list feedback")
	}
	for _, fb := range feedback {
		row := fbSheet.AddRow()
		row.AddCell().SetString(fb.ID)
		row.AddCell().SetString(fb.ProfileID)
		row.AddCell().SetInt(fb.Rating)
		row.AddCell().SetString(fb.Comment)
		row.AddCell().SetString(formatTime(&fb.CreatedAt))
	}
	sum.Feedback = len(feedback)

	if err := book.Write(w); err != nil {
		return sum, eris.Wrap(err, "export: write workbook")
	}
	zap.L().Info("export: workbook written",
		zap.Int("submissions", sum.Submissions),
		zap.Int("feedback", sum.Feedback),
	)
	return sum, nil
}

func addSheet(book *xlsx.File, name string, header []string) (*xlsx.Sheet, error) {
	sheet, err := book.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	addRow(sheet, header)
	return sheet, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func submissionRow(s *model.Submission) []string {
	return []string{
		s.JobID,
		s.CompanyName,
		s.CompanyURL,
		s.Email,
		string(s.Status),
		s.ReviewReason,
		s.ClientIP,
		formatTime(&s.CreatedAt),
		formatTime(s.CompletedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ReadSheet returns every row of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	book, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open workbook")
	}
	sheet, ok := book.Sheet[name]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
