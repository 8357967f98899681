// Package export renders beneficiaries as the fixed 27-column registry sheet, as
// CSV or as an XLSX workbook.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"relief/internal/beneficiary/models"
)

// Format selects the file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query value to a Format, defaulting to CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Header is the column layout shared by both exports.
var Header = []string{
	"Last Name", "First Name", "Middle Name", "Extension Name",
	"Sex", "Birth Date", "Civil Status",
	"Province", "Municipality", "Barangay", "Purok",
	"Damage Classification", "NHTS-PR Classification", "Applicable Sectors",
	"Living w/ Father", "Father Name", "Father Birth Date",
	"Living w/ Mother", "Mother Name", "Mother Birth Date",
	"Living w/ Spouse", "Spouse Name", "Spouse Birth Date",
	"Siblings Count", "Children Count", "Relatives Count",
	"Date Added",
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// counterpart renders the flag, name and birth date columns; name and date are
// blank when the person does not live with the beneficiary.
func counterpart(living bool, c models.Counterpart) []string {
	if !living {
		return []string{"No", "", ""}
	}
	return []string{"Yes", c.FullName(), c.BirthDate.String()}
}

// Row renders one record in Header order. Counts come from the loaded member rows.
func Row(b *models.Beneficiary) []string {
	row := []string{
		b.LastName, b.FirstName, b.MiddleName, b.ExtensionName,
		b.Sex, b.BirthDate.String(), b.CivilStatus,
		b.Province, b.Municipality, b.Barangay, b.Purok,
		b.DamageClassification, b.PovertyClassification, strings.Join(b.Sectors, ", "),
	}
	row = append(row, counterpart(b.LivingWithFather, b.Father)...)
	row = append(row, counterpart(b.LivingWithMother, b.Mother)...)
	row = append(row, counterpart(b.LivingWithSpouse, b.Spouse)...)

	counts := b.Counts()
	row = append(row,
		strconv.Itoa(counts.Siblings),
		strconv.Itoa(counts.Children),
		strconv.Itoa(counts.Relatives),
	)
	added := ""
	if !b.CreatedAt.IsZero() {
		added = b.CreatedAt.Format("2006-01-02")
	}
	return append(row, added)
}

// WriteCSV writes the header and one line per record.
func WriteCSV(w io.Writer, records []*models.Beneficiary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, b := range records {
		if err := cw.Write(Row(b)); err != nil {
			return fmt.Errorf("write row for beneficiary %d: %w", b.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with a bold header row and numeric count
// columns.
func WriteXLSX(w io.Writer, sheet string, records []*models.Beneficiary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, len(Header), 18); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	head := make([]any, len(Header))
	for i, h := range Header {
		head[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", head); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, b := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, xlsxRow(b)); err != nil {
			return fmt.Errorf("write row for beneficiary %d: %w", b.ID, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}

// countColumn is the zero-based index of "Siblings Count".
const countColumn = 23

func xlsxRow(b *models.Beneficiary) []any {
	cols := Row(b)
	out := make([]any, len(cols))
	for i, v := range cols {
		out[i] = v
	}
	counts := b.Counts()
	out[countColumn] = counts.Siblings
	out[countColumn+1] = counts.Children
	out[countColumn+2] = counts.Relatives
	return out
}
