package scanning

import "context"

// Encoding selects how a request body is serialized
type Encoding int

const (
	// EncodingJSON sends a JSON-encoded structured body
	EncodingJSON Encoding = iota
	// EncodingMultipart sends a multipart/form-data body built from a *Form
	EncodingMultipart
)

func (e Encoding) String() string {
	switch e {
	case EncodingMultipart:
		return "multipart"
	default:
		return "json"
	}
}

// Document is a receipt file ready to be sent to the extraction service
type Document struct {
	Name        string
	ContentType string
	Data        []byte // raw bytes, used for multipart bodies
	Base64      string // transport-safe form, used for JSON bodies
}

// Company is the company context attached to every remote call
type Company struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	VATID   string `json:"vat_id,omitempty"`
}

// LineItem is a single line read from a receipt
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Total       *float64 `json:"total,omitempty"`
}

// Extraction contains the fields the extraction service read from a receipt.
// Every field is optional; the service may fail to read any of them.
type Extraction struct {
	VendorName    string     `json:"vendor_name,omitempty"`
	VendorVAT     string     `json:"vendor_vat,omitempty"`
	VendorAddress string     `json:"vendor_address,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	InvoiceDate   string     `json:"invoice_date,omitempty"`
	TotalAmount   *float64   `json:"total_amount,omitempty"`
	NetAmount     *float64   `json:"net_amount,omitempty"`
	VATAmount     *float64   `json:"vat_amount,omitempty"`
	VATRate       *float64   `json:"vat_rate,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	Country       string     `json:"country,omitempty"`
	Category      string     `json:"category,omitempty"`
	RawText       string     `json:"raw_text,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
}

// ExtractionResponse is the envelope returned by the extraction endpoint
type ExtractionResponse struct {
	Success bool        `json:"success"`
	Data    *Extraction `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RuleHit is one rule's outcome in a decision's audit trail
type RuleHit struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	Passed   bool   `json:"passed"`
	Severity string `json:"severity"` // blocker, warning or info
	Message  string `json:"message"`
}

// Decision is the rules engine verdict for one receipt
type Decision struct {
	Eligibility      string    `json:"eligibility"`
	RefundableAmount *float64  `json:"refundable_amount,omitempty"`
	Reasoning        string    `json:"reasoning"`
	RuleHits         []RuleHit `json:"rule_hits,omitempty"`
	Confidence       *float64  `json:"confidence,omitempty"`
}

// DecisionResponse is the envelope returned by the rule-evaluation endpoint
type DecisionResponse struct {
	Success bool      `json:"success"`
	Data    *Decision `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Extractor reads structured fields from a receipt
type Extractor interface {
	// Extract sends the document to the extraction service using the given encoding
	Extract(ctx context.Context, doc Document, company Company, enc Encoding) (*ExtractionResponse, error)
}

// Evaluator decides VAT-recovery eligibility from extracted fields
type Evaluator interface {
	// Evaluate sends the extraction output to the rules engine
	Evaluate(ctx context.Context, extraction *Extraction, company Company) (*DecisionResponse, error)
}
