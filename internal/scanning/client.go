package scanning

import (
	"context"
	"fmt"
)

type extractionFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

type extractionRequest struct {
	File    extractionFile `json:"file"`
	Company Company        `json:"company"`
}

type decisionRequest struct {
	Extraction *Extraction `json:"extraction"`
	Company    Company     `json:"company"`
}

// Extract sends a receipt to the extraction service.
// The JSON body carries the file as base64; the multipart body carries the raw bytes
// in the "file" field next to company_name, company_country and vat_id.
func (c *Client) Extract(ctx context.Context, doc Document, company Company, enc Encoding) (*ExtractionResponse, error) {
	var payload any
	switch enc {
	case EncodingMultipart:
		form := &Form{}
		form.AddFile("file", doc.Name, doc.ContentType, doc.Data)
		form.AddField("company_name", company.Name)
		form.AddField("company_country", company.Country)
		if company.VATID != "" {
			form.AddField("vat_id", company.VATID)
		}
		payload = form
	case EncodingJSON:
		payload = extractionRequest{
			File: extractionFile{
				Name: doc.Name,
				Type: doc.ContentType,
				Data: doc.Base64,
			},
			Company: company,
		}
	default:
		return nil, fmt.Errorf("unsupported encoding: %d", enc)
	}

	var resp ExtractionResponse
	opts := CallOptions{Timeout: c.extractTimeout, Encoding: enc}
	if err := c.callJSON(ctx, c.extractURL, payload, opts, extractionSchema, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Evaluate sends extracted fields and company context to the rules engine
func (c *Client) Evaluate(ctx context.Context, extraction *Extraction, company Company) (*DecisionResponse, error) {
	payload := decisionRequest{
		Extraction: extraction,
		Company:    company,
	}

	var resp DecisionResponse
	opts := CallOptions{Timeout: c.rulesTimeout, Encoding: EncodingJSON}
	if err := c.callJSON(ctx, c.rulesURL, payload, opts, decisionSchema, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
