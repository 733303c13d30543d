package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/xuri/excelize/v2"

	"absensi/internal/attendance"
)

func sampleBook() attendance.Book {
	return attendance.Book{
		"2024-03-10": {
			"stu-02": {Name: "Citra", Time: "07:05:00", Status: attendance.StatusPresent},
		},
		"2024-03-11": {
			"stu-03": {Name: "Dewi", Time: "07:40:00", Status: attendance.StatusLate},
			"stu-01": {Name: "Budi", Time: "00:00:00", Status: attendance.StatusSick, Reason: "flu"},
		},
	}
}

func TestCSVDeterministicOrder(t *testing.T) {
	out, err := CSV(sampleBook())
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	want := [][]string{
		{"Date", "Student ID", "Name", "Time", "Status"},
		{"2024-03-11", "stu-01", "Budi", "00:00:00", "sick"},
		{"2024-03-11", "stu-03", "Dewi", "07:40:00", "late"},
		{"2024-03-10", "stu-02", "Citra", "07:05:00", "present"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d", len(rows), len(want))
	}
	for i, row := range want {
		for j, cell := range row {
			if rows[i][j] != cell {
				t.Fatalf("row %d col %d = %q, want %q", i, j, rows[i][j], cell)
			}
		}
	}
}

func TestCSVEmptyBook(t *testing.T) {
	out, err := CSV(attendance.Book{})
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("empty book should render the header only, got %d rows", len(rows))
	}
}

func TestExcelContents(t *testing.T) {
	out, err := Excel(sampleBook())
	if err != nil {
		t.Fatalf("Excel: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	const sheet = "Attendance"
	got, err := f.GetCellValue(sheet, "A1")
	if err != nil || got != "Date" {
		t.Fatalf("A1 = %q, err %v", got, err)
	}
	// First data row is the newest date, lowest student id.
	checks := map[string]string{
		"A2": "2024-03-11",
		"B2": "stu-01",
		"C2": "Budi",
		"E2": "sick",
		"A4": "2024-03-10",
		"B4": "stu-02",
		"E4": "present",
	}
	for cell, want := range checks {
		got, err := f.GetCellValue(sheet, cell)
		if err != nil {
			t.Fatalf("GetCellValue %s: %v", cell, err)
		}
		if got != want {
			t.Fatalf("%s = %q, want %q", cell, got, want)
		}
	}
}

func TestQRPNG(t *testing.T) {
	out, err := QRPNG("stu-01")
	if err != nil {
		t.Fatalf("QRPNG: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("\x89PNG")) {
		t.Fatal("output is not a PNG")
	}
}
