package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Summary is derived from the queue on demand and never cached
type Summary struct {
	TotalReceipts    int     `json:"total_receipts"`
	TotalVATFound    float64 `json:"total_vat_found"`
	TotalRefundable  float64 `json:"total_refundable"`
	ApprovedCount    int     `json:"approved_count"`
	NotEligibleCount int     `json:"not_eligible_count"`
	ReviewCount      int     `json:"review_count"`
	ErrorCount       int     `json:"error_count"`
}

// Completed reports whether a file finished with a result
func (qf QueuedFile) Completed() bool {
	return qf.Status == StatusDone && qf.Result != nil
}

// Summarize computes summary statistics over a queue snapshot
func Summarize(files []QueuedFile) Summary {
	s := Summary{TotalReceipts: len(files)}
	for _, f := range files {
		if f.Status == StatusError {
			s.ErrorCount++
			continue
		}
		if !f.Completed() {
			continue
		}
		s.TotalVATFound += value(f.Result.VATAmount)
		s.TotalRefundable += value(f.Result.RefundableAmount)
		switch f.Result.Eligibility {
		case EligibilityApproved:
			s.ApprovedCount++
		case EligibilityNotEligible:
			s.NotEligibleCount++
		case EligibilityNeedsReview:
			s.ReviewCount++
		}
	}
	return s
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// exportedReceipt flattens the result next to the file name
type exportedReceipt struct {
	Filename string `json:"filename"`
	*ProcessedResult
}

type exportDocument struct {
	ExportDate string            `json:"export_date"`
	Company    CompanyDetails    `json:"company"`
	Summary    Summary           `json:"summary"`
	Receipts   []exportedReceipt `json:"receipts"`
}

// ExportJSON renders a pretty-printed document with the company, the summary and
// one record per file that has a result
func ExportJSON(files []QueuedFile, company CompanyDetails, now time.Time) ([]byte, error) {
	doc := exportDocument{
		ExportDate: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Company:    company,
		Summary:    Summarize(files),
		Receipts:   []exportedReceipt{},
	}
	for _, f := range files {
		if f.Result == nil {
			continue
		}
		doc.Receipts = append(doc.Receipts, exportedReceipt{Filename: f.File.Name, ProcessedResult: f.Result})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling export: %w", err)
	}
	return data, nil
}

// CSVHeaders are the fixed export columns
var CSVHeaders = []string{
	"Filename",
	"Vendor Name",
	"Country",
	"Invoice Date",
	"Invoice Number",
	"Net Amount",
	"VAT Amount",
	"Total Amount",
	"Currency",
	"Eligibility",
	"Refundable Amount",
	"Reasoning",
	"OCR Confidence",
}

var csvSanitizer = strings.NewReplacer(",", ";", "\r\n", " ", "\n", " ", "\r", " ")

// sanitize keeps free text on one unquoted CSV cell
func sanitize(s string) string {
	return csvSanitizer.Replace(s)
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvRow(f QueuedFile) []string {
	r := f.Result
	return []string{
		sanitize(f.File.Name),
		sanitize(r.VendorName),
		sanitize(r.Country),
		sanitize(r.InvoiceDate),
		sanitize(r.InvoiceNumber),
		formatNumber(r.NetAmount),
		formatNumber(r.VATAmount),
		formatNumber(r.TotalAmount),
		sanitize(r.Currency),
		string(r.Eligibility),
		formatNumber(r.RefundableAmount),
		sanitize(r.Reasoning),
		formatNumber(r.OCRConfidence),
	}
}

// ExportCSV renders the header row and one row per file that has a result.
// Cells are never quoted; commas and line breaks in text are replaced instead.
func ExportCSV(files []QueuedFile) []byte {
	lines := []string{strings.Join(CSVHeaders, ",")}
	for _, f := range files {
		if f.Result == nil {
			continue
		}
		lines = append(lines, strings.Join(csvRow(f), ","))
	}
	return []byte(strings.Join(lines, "\n"))
}

const (
	receiptsSheet = "Receipts"
	summarySheet  = "Summary"
)

// ExportXLSX renders a workbook with a Receipts sheet using the CSV columns and a Summary sheet
func ExportXLSX(files []QueuedFile, company CompanyDetails, now time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the receipts sheet
	if err := f.SetSheetName(f.GetSheetName(0), receiptsSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("creating summary sheet: %w", err)
	}

	for i, h := range CSVHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(receiptsSheet, cell, h); err != nil {
			return nil, fmt.Errorf("writing header: %w", err)
		}
	}

	row := 2
	for _, qf := range files {
		if qf.Result == nil {
			continue
		}
		r := qf.Result
		values := []any{
			qf.File.Name,
			r.VendorName,
			r.Country,
			r.InvoiceDate,
			r.InvoiceNumber,
			cellNumber(r.NetAmount),
			cellNumber(r.VATAmount),
			cellNumber(r.TotalAmount),
			r.Currency,
			string(r.Eligibility),
			cellNumber(r.RefundableAmount),
			r.Reasoning,
			cellNumber(r.OCRConfidence),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(receiptsSheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing row %d: %w", row, err)
			}
		}
		row++
	}

	_ = f.SetColWidth(receiptsSheet, "A", "A", 28) // filename
	_ = f.SetColWidth(receiptsSheet, "B", "B", 28) // vendor
	_ = f.SetColWidth(receiptsSheet, "L", "L", 60) // reasoning

	summary := Summarize(files)
	summaryRows := [][]any{
		{"Export Date", now.UTC().Format(time.RFC3339)},
		{"Company", company.Name},
		{"Country", company.Country},
		{"VAT ID", company.VATID},
		{"Total Receipts", summary.TotalReceipts},
		{"Total VAT Found", summary.TotalVATFound},
		{"Total Refundable", summary.TotalRefundable},
		{"Approved", summary.ApprovedCount},
		{"Not Eligible", summary.NotEligibleCount},
		{"Needs Review", summary.ReviewCount},
		{"Errors", summary.ErrorCount},
	}
	for i, values := range summaryRows {
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			if err := f.SetCellValue(summarySheet, cell, v); err != nil {
				return nil, fmt.Errorf("writing summary: %w", err)
			}
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// cellNumber leaves absent values as empty cells
func cellNumber(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

// ExportFilename returns the download name for an export format
func ExportFilename(format string, now time.Time) string {
	return fmt.Sprintf("vatrix-export-%s.%s", now.UTC().Format("2006-01-02"), format)
}
