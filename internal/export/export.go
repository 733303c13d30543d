// Package export renders the attendance ledger as CSV or a styled Excel
// workbook, and produces student QR codes. Output is deterministic: dates
// newest first, student ids ascending within a date.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/xuri/excelize/v2"

	"absensi/internal/attendance"
)

var headers = []string{"Date", "Student ID", "Name", "Time", "Status"}

func datesDesc(book attendance.Book) []string {
	dates := make([]string, 0, len(book))
	for d := range book {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates
}

func idsAsc(day map[string]attendance.Record) []string {
	ids := make([]string, 0, len(day))
	for id := range day {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CSV renders the full ledger as CSV.
func CSV(book attendance.Book) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, err
	}
	for _, date := range datesDesc(book) {
		day := book[date]
		for _, id := range idsAsc(day) {
			rec := day[id]
			if err := w.Write([]string{date, id, rec.Name, rec.Time, string(rec.Status)}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

var statusFills = map[attendance.Status]string{
	attendance.StatusPresent:    "90EE90",
	attendance.StatusLate:       "FFD700",
	attendance.StatusSick:       "FFA500",
	attendance.StatusPermission: "FFA500",
}

func thinBorder() []excelize.Border {
	sides := []string{"left", "right", "top", "bottom"}
	border := make([]excelize.Border, 0, len(sides))
	for _, s := range sides {
		border = append(border, excelize.Border{Type: s, Color: "000000", Style: 1})
	}
	return border
}

// Excel renders the full ledger as a styled xlsx workbook.
func Excel(book attendance.Book) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Attendance"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF", Size: 12},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"0066CC"}},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder(),
	})
	if err != nil {
		return nil, err
	}
	bodyStyle, err := f.NewStyle(&excelize.Style{Border: thinBorder()})
	if err != nil {
		return nil, err
	}
	statusStyles := make(map[attendance.Status]int, len(statusFills))
	for status, fill := range statusFills {
		id, err := f.NewStyle(&excelize.Style{
			Border: thinBorder(),
			Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{fill}},
		})
		if err != nil {
			return nil, err
		}
		statusStyles[status] = id
	}

	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheet, "A1", "E1", headerStyle); err != nil {
		return nil, err
	}

	row := 2
	for _, date := range datesDesc(book) {
		day := book[date]
		for _, id := range idsAsc(day) {
			rec := day[id]
			values := []any{date, id, rec.Name, rec.Time, string(rec.Status)}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return nil, err
				}
			}
			if err := f.SetCellStyle(sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("D%d", row), bodyStyle); err != nil {
				return nil, err
			}
			statusCell := fmt.Sprintf("E%d", row)
			style, ok := statusStyles[rec.Status]
			if !ok {
				style = bodyStyle
			}
			if err := f.SetCellStyle(sheet, statusCell, statusCell, style); err != nil {
				return nil, err
			}
			row++
		}
	}

	if err := f.SetColWidth(sheet, "A", "E", 20); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// QRPNG encodes a student id as a 256px PNG QR code for printable badges.
func QRPNG(studentID string) ([]byte, error) {
	return qrcode.Encode(studentID, qrcode.Medium, 256)
}
