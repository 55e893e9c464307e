package receipt

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/zombor/vatrix/internal/scanning"
)

// Status is a queued file's position in the processing pipeline
type Status string

const (
	StatusQueued        Status = "queued"
	StatusUploading     Status = "uploading"
	StatusProcessingOCR Status = "processing_ocr"
	StatusRunningRules  Status = "running_rules"
	StatusDone          Status = "done"
	StatusError         Status = "error"
)

// InFlight reports whether the file is mid-pipeline
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusProcessingOCR || s == StatusRunningRules
}

// Terminal reports whether the pipeline has finished for the file
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Eligibility is the rules engine verdict
type Eligibility string

const (
	EligibilityApproved    Eligibility = "approved"
	EligibilityNotEligible Eligibility = "not_eligible"
	EligibilityNeedsReview Eligibility = "needs_review"
)

// ParseEligibility maps a rules engine verdict onto the known values, ignoring case.
// Anything unrecognised needs manual review.
func ParseEligibility(s string) (Eligibility, bool) {
	switch e := Eligibility(strings.ToLower(strings.TrimSpace(s))); e {
	case EligibilityApproved, EligibilityNotEligible, EligibilityNeedsReview:
		return e, true
	default:
		return EligibilityNeedsReview, false
	}
}

// File is a user-submitted receipt file. It is immutable once enqueued.
type File struct {
	Name        string          `json:"name"`
	Size        int64           `json:"size"`
	ContentType string          `json:"type"`
	Source      scanning.Source `json:"-"`
}

// QueuedFile is one file tracked through the pipeline
type QueuedFile struct {
	ID       string           `json:"id"`
	File     File             `json:"file"`
	Status   Status           `json:"status"`
	Progress int              `json:"progress"`
	Error    string           `json:"error,omitempty"`
	Result   *ProcessedResult `json:"result,omitempty"`
}

// RuleHit is one rule's outcome, part of a decision's audit trail
type RuleHit struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ProcessedResult is the merged output of extraction and rule evaluation for one file
type ProcessedResult struct {
	// Extraction
	VendorName    string              `json:"vendor_name,omitempty"`
	VendorVAT     string              `json:"vendor_vat,omitempty"`
	VendorAddress string              `json:"vendor_address,omitempty"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
	InvoiceDate   string              `json:"invoice_date,omitempty"`
	TotalAmount   *float64            `json:"total_amount,omitempty"`
	NetAmount     *float64            `json:"net_amount,omitempty"`
	VATAmount     *float64            `json:"vat_amount,omitempty"`
	VATRate       *float64            `json:"vat_rate,omitempty"`
	Currency      string              `json:"currency,omitempty"`
	Country       string              `json:"country,omitempty"`
	Category      string              `json:"category,omitempty"`
	RawText       string              `json:"raw_text,omitempty"`
	LineItems     []scanning.LineItem `json:"line_items,omitempty"`
	OCRConfidence *float64            `json:"ocr_confidence,omitempty"`

	// Decision
	Eligibility      Eligibility `json:"eligibility"`
	RefundableAmount *float64    `json:"refundable_amount,omitempty"`
	Reasoning        string      `json:"reasoning"`
	RuleHits         []RuleHit   `json:"rule_hits,omitempty"`
	RulesConfidence  *float64    `json:"rules_confidence,omitempty"`
}

// CompanyDetails is the user-entered context attached to every request
type CompanyDetails struct {
	Name    string `json:"company_name"`
	Country string `json:"company_country"`
	VATID   string `json:"vat_id,omitempty"`
	Email   string `json:"email,omitempty"`
}

// wire converts company details into the form sent to the remote services
func (c CompanyDetails) wire() scanning.Company {
	return scanning.Company{
		Name:    c.Name,
		Country: c.Country,
		VATID:   c.VATID,
	}
}

// BytesSource serves file content already held in memory
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// PathSource serves file content from disk, read at processing time
type PathSource string

func (p PathSource) Open() (io.ReadCloser, error) {
	return os.Open(string(p))
}
