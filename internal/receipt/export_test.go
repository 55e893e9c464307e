package receipt

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
)

var _ = Describe("Export", func() {
	var (
		files   []QueuedFile
		company CompanyDetails
		now     time.Time
	)

	BeforeEach(func() {
		now = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
		company = CompanyDetails{Name: "Acme GmbH", Country: "DE", VATID: "DE123456789", Email: "ap@acme.example"}
		files = []QueuedFile{
			{
				ID:     "id-1",
				File:   File{Name: "hotel.pdf"},
				Status: StatusDone,
				Result: &ProcessedResult{
					VendorName:       "Hotel, Adlon",
					Country:          "DE",
					InvoiceDate:      "2024-03-01",
					NetAmount:        float(100),
					VATAmount:        float(19),
					TotalAmount:      float(119),
					Currency:         "EUR",
					OCRConfidence:    float(0.95),
					Eligibility:      EligibilityApproved,
					RefundableAmount: float(19),
					Reasoning:        "Eligible, pending docs review",
				},
			},
			{
				ID:     "id-2",
				File:   File{Name: "dinner.jpg"},
				Status: StatusDone,
				Result: &ProcessedResult{
					VendorName:       "Bistro",
					VATAmount:        float(7.5),
					Eligibility:      EligibilityNotEligible,
					RefundableAmount: float(0),
					Reasoning:        "Entertainment\nnot refundable",
				},
			},
			{
				ID:     "id-3",
				File:   File{Name: "taxi.png"},
				Status: StatusDone,
				Result: &ProcessedResult{
					VendorName:  "Taxi",
					Eligibility: EligibilityNeedsReview,
					Reasoning:   "timeout",
				},
			},
			{ID: "id-4", File: File{Name: "blurry.heic"}, Status: StatusError, Error: "OCR processing failed"},
			{ID: "id-5", File: File{Name: "later.pdf"}, Status: StatusQueued},
		}
	})

	Describe("Summarize", func() {
		It("should count and total over the queue", func() {
			Expect(Summarize(files)).To(Equal(Summary{
				TotalReceipts:    5,
				TotalVATFound:    26.5,
				TotalRefundable:  19,
				ApprovedCount:    1,
				NotEligibleCount: 1,
				ReviewCount:      1,
				ErrorCount:       1,
			}))
		})

		It("should be zero for an empty queue", func() {
			Expect(Summarize(nil)).To(Equal(Summary{}))
		})

		It("should ignore done files without a result", func() {
			s := Summarize([]QueuedFile{{ID: "x", Status: StatusDone}})
			Expect(s.TotalReceipts).To(Equal(1))
			Expect(s.ApprovedCount + s.NotEligibleCount + s.ReviewCount).To(BeZero())
		})
	})

	Describe("ExportCSV", func() {
		var lines []string

		JustBeforeEach(func() {
			lines = strings.Split(string(ExportCSV(files)), "\n")
		})

		It("should start with the fixed header", func() {
			Expect(lines[0]).To(Equal("Filename,Vendor Name,Country,Invoice Date,Invoice Number,Net Amount,VAT Amount,Total Amount,Currency,Eligibility,Refundable Amount,Reasoning,OCR Confidence"))
		})

		It("should write one row per file with a result", func() {
			Expect(lines).To(HaveLen(4))
		})

		It("should sanitize commas and leave absent values empty", func() {
			Expect(lines[1]).To(Equal("hotel.pdf,Hotel; Adlon,DE,2024-03-01,,100,19,119,EUR,approved,19,Eligible; pending docs review,0.95"))
		})

		It("should replace newlines in free text", func() {
			Expect(lines[2]).To(ContainSubstring("Entertainment not refundable"))
			Expect(lines[2]).To(ContainSubstring(",7.5,"))
		})

		It("should keep every row at thirteen columns", func() {
			for _, line := range lines {
				Expect(strings.Split(line, ",")).To(HaveLen(13))
			}
		})

		It("should produce the same output twice", func() {
			Expect(ExportCSV(files)).To(Equal(ExportCSV(files)))
		})

		When("nothing has been processed", func() {
			BeforeEach(func() {
				files = files[3:]
			})

			It("should only write the header", func() {
				Expect(lines).To(HaveLen(1))
			})
		})
	})

	Describe("ExportJSON", func() {
		var (
			data []byte
			err  error
			doc  map[string]any
		)

		JustBeforeEach(func() {
			data, err = ExportJSON(files, company, now)
			Expect(err).NotTo(HaveOccurred())
			doc = nil
			Expect(json.Unmarshal(data, &doc)).To(Succeed())
		})

		It("should use two space indentation", func() {
			Expect(string(data)).To(HavePrefix("{\n  \"export_date\""))
		})

		It("should include the export date and company", func() {
			Expect(doc["export_date"]).To(Equal("2024-03-05T10:00:00.000Z"))
			Expect(doc["company"]).To(HaveKeyWithValue("company_name", "Acme GmbH"))
			Expect(doc["company"]).To(HaveKeyWithValue("vat_id", "DE123456789"))
		})

		It("should include the summary", func() {
			Expect(doc["summary"]).To(HaveKeyWithValue("total_receipts", BeNumerically("==", 5)))
			Expect(doc["summary"]).To(HaveKeyWithValue("error_count", BeNumerically("==", 1)))
		})

		It("should flatten each result next to its filename", func() {
			receipts := doc["receipts"].([]any)
			Expect(receipts).To(HaveLen(3))
			first := receipts[0].(map[string]any)
			Expect(first).To(HaveKeyWithValue("filename", "hotel.pdf"))
			Expect(first).To(HaveKeyWithValue("vendor_name", "Hotel, Adlon"))
			Expect(first).To(HaveKeyWithValue("eligibility", "approved"))
		})

		It("should produce the same output twice", func() {
			again, err := ExportJSON(files, company, now)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(data))
		})

		When("nothing has been processed", func() {
			BeforeEach(func() {
				files = nil
			})

			It("should write an empty list", func() {
				Expect(doc["receipts"]).To(Equal([]any{}))
			})
		})
	})

	Describe("ExportXLSX", func() {
		var workbook *excelize.File

		JustBeforeEach(func() {
			data, err := ExportXLSX(files, company, now)
			Expect(err).NotTo(HaveOccurred())
			workbook, err = excelize.OpenReader(bytes.NewReader(data))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			workbook.Close()
		})

		It("should have receipts and summary sheets", func() {
			Expect(workbook.GetSheetList()).To(Equal([]string{"Receipts", "Summary"}))
		})

		It("should use the CSV columns", func() {
			rows, err := workbook.GetRows("Receipts")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0]).To(Equal(CSVHeaders))
			Expect(rows).To(HaveLen(4))
			Expect(rows[1][0]).To(Equal("hotel.pdf"))
			Expect(rows[1][1]).To(Equal("Hotel, Adlon"))
		})

		It("should write amounts and leave absent values empty", func() {
			rows, err := workbook.GetRows("Receipts")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[1][6]).To(Equal("19"))
			Expect(rows[1][4]).To(BeEmpty())
		})

		It("should summarize the queue", func() {
			rows, err := workbook.GetRows("Summary")
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[1]).To(Equal([]string{"Company", "Acme GmbH"}))
			Expect(rows[4]).To(Equal([]string{"Total Receipts", "5"}))
		})
	})

	Describe("ExportFilename", func() {
		It("should include the date and format", func() {
			Expect(ExportFilename("csv", now)).To(Equal("vatrix-export-2024-03-05.csv"))
		})
	})
})
