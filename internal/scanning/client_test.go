package scanning

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func float(v float64) *float64 { return &v }

var _ = Describe("Client", func() {
	var (
		server  *ghttp.Server
		client  *Client
		doc     Document
		company Company
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		client, err = NewClient(Config{
			ExtractURL:     server.URL() + "/functions/v1/calculate-vat",
			RulesURL:       server.URL() + "/functions/v1/rebbi",
			APIKey:         "anon-key",
			ExtractTimeout: time.Second,
			RulesTimeout:   time.Second,
		})
		Expect(err).NotTo(HaveOccurred())

		doc = Document{
			Name:        "receipt.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("jpeg-bytes"),
			Base64:      "anBlZy1ieXRlcw==",
		}
		company = Company{Name: "Acme Ltd", Country: "IL", VATID: "IL123"}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Extract", func() {
		When("using the JSON encoding", func() {
			var (
				resp *ExtractionResponse
				err  error
			)

			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/functions/v1/calculate-vat"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer anon-key"),
					ghttp.VerifyJSON(`{
						"file": {"name": "receipt.jpg", "type": "image/jpeg", "data": "anBlZy1ieXRlcw=="},
						"company": {"name": "Acme Ltd", "country": "IL", "vat_id": "IL123"}
					}`),
					ghttp.RespondWithJSONEncoded(http.StatusOK, ExtractionResponse{
						Success: true,
						Data: &Extraction{
							VendorName: "Acme GmbH",
							VATAmount:  float(19),
							Currency:   "EUR",
							Confidence: float(0.92),
							LineItems:  []LineItem{{Description: "Hotel night", Total: float(119)}},
						},
					}),
				))
			})

			JustBeforeEach(func() {
				resp, err = client.Extract(context.Background(), doc, company, EncodingJSON)
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should decode the extraction data", func() {
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Data.VendorName).To(Equal("Acme GmbH"))
				Expect(*resp.Data.VATAmount).To(Equal(19.0))
				Expect(*resp.Data.Confidence).To(Equal(0.92))
				Expect(resp.Data.LineItems).To(HaveLen(1))
			})

			It("should leave unread fields empty", func() {
				Expect(resp.Data.NetAmount).To(BeNil())
				Expect(resp.Data.InvoiceNumber).To(BeEmpty())
			})
		})

		When("using the multipart encoding", func() {
			var values map[string][]string

			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/functions/v1/calculate-vat"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer anon-key"),
					func(w http.ResponseWriter, r *http.Request) {
						defer GinkgoRecover()
						Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
						values = r.MultipartForm.Value
						Expect(r.MultipartForm.File).To(HaveKey("file"))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ExtractionResponse{Success: false, Error: "unreadable"}),
				))
			})

			It("sends the company fields and decodes the response", func() {
				resp, err := client.Extract(context.Background(), doc, company, EncodingMultipart)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Success).To(BeFalse())
				Expect(resp.Error).To(Equal("unreadable"))
				Expect(values).To(HaveKeyWithValue("company_name", []string{"Acme Ltd"}))
				Expect(values).To(HaveKeyWithValue("company_country", []string{"IL"}))
				Expect(values).To(HaveKeyWithValue("vat_id", []string{"IL123"}))
			})
		})

		When("the response is not JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "<html>oops</html>"))
			})

			It("returns a NetworkError", func() {
				_, err := client.Extract(context.Background(), doc, company, EncodingJSON)
				Expect(err).To(BeAssignableToTypeOf(&NetworkError{}))
			})
		})

		When("the response has the wrong shape", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"success":"yes","data":{"vat_amount":"19"}}`))
			})

			It("returns a NetworkError naming the schema mismatch", func() {
				_, err := client.Extract(context.Background(), doc, company, EncodingJSON)
				Expect(err).To(BeAssignableToTypeOf(&NetworkError{}))
				Expect(err.Error()).To(ContainSubstring("does not match schema"))
			})
		})
	})

	Describe("Evaluate", func() {
		When("the rules engine returns a decision", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/functions/v1/rebbi"),
					ghttp.VerifyHeaderKV("Authorization", "Bearer anon-key"),
					ghttp.VerifyContentType("application/json"),
					ghttp.VerifyJSON(`{
						"extraction": {"vendor_name": "Acme GmbH", "vat_amount": 19},
						"company": {"name": "Acme Ltd", "country": "IL", "vat_id": "IL123"}
					}`),
					ghttp.RespondWithJSONEncoded(http.StatusOK, DecisionResponse{
						Success: true,
						Data: &Decision{
							Eligibility:      "approved",
							RefundableAmount: float(19),
							Reasoning:        "Hotel VAT is recoverable",
							RuleHits: []RuleHit{
								{Code: "R1", Title: "Valid invoice", Passed: true, Severity: "info", Message: "ok"},
							},
							Confidence: float(0.8),
						},
					}),
				))
			})

			It("decodes the decision", func() {
				resp, err := client.Evaluate(context.Background(), &Extraction{VendorName: "Acme GmbH", VATAmount: float(19)}, company)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Success).To(BeTrue())
				Expect(resp.Data.Eligibility).To(Equal("approved"))
				Expect(*resp.Data.RefundableAmount).To(Equal(19.0))
				Expect(resp.Data.RuleHits).To(ConsistOf(HaveField("Code", "R1")))
			})
		})

		When("the rules engine is down", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "maintenance"))
			})

			It("returns a TransportError", func() {
				_, err := client.Evaluate(context.Background(), &Extraction{}, company)
				Expect(err).To(MatchError("HTTP 503: maintenance"))
			})
		})
	})
})
