package receipt

import (
	"context"
	"log/slog"

	"github.com/zombor/vatrix/internal/scanning"
)

const (
	msgOCRFailed        = "OCR processing failed"
	msgRulesUnavailable = "Rules engine unavailable. Manual review required."
	msgProcessingFailed = "Processing failed"
)

// StatusFunc receives stage checkpoints while a single file is processed
type StatusFunc func(status Status, progress int)

// UpdateFunc is the only channel through which progress, results and errors
// leave a run. Each call touches exactly one file, identified by id.
type UpdateFunc func(id string, status Status, progress int, result *ProcessedResult, errMsg string)

// Pipeline drives one file through upload, extraction and rule evaluation
type Pipeline struct {
	extractor scanning.Extractor
	evaluator scanning.Evaluator
}

// NewPipeline creates a new Pipeline
func NewPipeline(extractor scanning.Extractor, evaluator scanning.Evaluator) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		evaluator: evaluator,
	}
}

// Process runs every stage for f and returns the merged result.
// Checkpoints are emitted at 10, 30, 40, 60, 70 and 90; completion at 100 is left to the caller.
func (p *Pipeline) Process(ctx context.Context, f File, company CompanyDetails, onStatus StatusFunc) (*ProcessedResult, error) {
	if onStatus == nil {
		onStatus = func(Status, int) {}
	}
	wireCompany := company.wire()

	onStatus(StatusUploading, 10)
	doc, err := scanning.ReadDocument(f.Name, f.ContentType, f.Source)
	if err != nil {
		return nil, err
	}
	onStatus(StatusUploading, 30)

	onStatus(StatusProcessingOCR, 40)
	ocr, err := p.extractor.Extract(ctx, doc, wireCompany, scanning.EncodingJSON)
	if err != nil {
		// One multipart attempt before giving up
		slog.Warn("Structured extraction call failed, retrying as multipart", "filename", f.Name, "error", err)
		ocr, err = p.extractor.Extract(ctx, doc, wireCompany, scanning.EncodingMultipart)
		if err != nil {
			return nil, err
		}
	}
	onStatus(StatusProcessingOCR, 60)

	if ocr == nil || !ocr.Success || ocr.Data == nil {
		msg := msgOCRFailed
		if ocr != nil && ocr.Error != "" {
			msg = ocr.Error
		}
		return nil, &scanning.ServiceError{Service: "extraction", Message: msg}
	}

	onStatus(StatusRunningRules, 70)
	decision, err := p.evaluator.Evaluate(ctx, ocr.Data, wireCompany)
	if err != nil {
		return nil, err
	}
	onStatus(StatusRunningRules, 90)

	result := fromExtraction(ocr.Data)
	if decision == nil || !decision.Success || decision.Data == nil {
		reason := msgRulesUnavailable
		if decision != nil && decision.Error != "" {
			reason = decision.Error
		}
		slog.Warn("Rules engine failed, returning extraction data only", "filename", f.Name, "reason", reason)
		result.Eligibility = EligibilityNeedsReview
		result.Reasoning = reason
		return result, nil
	}

	eligibility, ok := ParseEligibility(decision.Data.Eligibility)
	if !ok {
		slog.Warn("Unknown eligibility from rules engine, marking for review", "filename", f.Name, "eligibility", decision.Data.Eligibility)
	}
	result.Eligibility = eligibility
	result.RefundableAmount = decision.Data.RefundableAmount
	result.Reasoning = decision.Data.Reasoning
	result.RulesConfidence = decision.Data.Confidence
	for _, hit := range decision.Data.RuleHits {
		result.RuleHits = append(result.RuleHits, RuleHit(hit))
	}
	return result, nil
}

// Run is the failure boundary around Process. It reports every outcome through
// onUpdate and never returns or panics: failures become status error with a message.
func (p *Pipeline) Run(ctx context.Context, qf QueuedFile, company CompanyDetails, onUpdate UpdateFunc) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline panicked", "id", qf.ID, "filename", qf.File.Name, "panic", r)
			onUpdate(qf.ID, StatusError, 0, nil, msgProcessingFailed)
		}
	}()

	result, err := p.Process(ctx, qf.File, company, func(status Status, progress int) {
		onUpdate(qf.ID, status, progress, nil, "")
	})
	if err != nil {
		slog.Error("Failed to process receipt", "id", qf.ID, "filename", qf.File.Name, "error", err)
		onUpdate(qf.ID, StatusError, 0, nil, errorMessage(err))
		return
	}
	onUpdate(qf.ID, StatusDone, 100, result, "")
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return msgProcessingFailed
	}
	return err.Error()
}

func fromExtraction(e *scanning.Extraction) *ProcessedResult {
	return &ProcessedResult{
		VendorName:    e.VendorName,
		VendorVAT:     e.VendorVAT,
		VendorAddress: e.VendorAddress,
		InvoiceNumber: e.InvoiceNumber,
		InvoiceDate:   e.InvoiceDate,
		TotalAmount:   e.TotalAmount,
		NetAmount:     e.NetAmount,
		VATAmount:     e.VATAmount,
		VATRate:       e.VATRate,
		Currency:      e.Currency,
		Country:       e.Country,
		Category:      e.Category,
		RawText:       e.RawText,
		LineItems:     e.LineItems,
		OCRConfidence: e.Confidence,
	}
}
