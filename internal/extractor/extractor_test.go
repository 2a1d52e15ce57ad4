package extractor

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/templates"
	"golang-payment-matcher/pkg/logger"
)

const gtbankHTML = `<html><head><style>td{font:12px}</style></head><body>
<table>
<tr><td>Account Number</td><td>:</td><td>3002156642</td></tr>
<tr><td>Description</td><td>:</td><td>090405260110014006799532206126-AMITHY ONE M TRF FOR CUSTOMER</td></tr>
<tr><td>Amount</td><td>:</td><td>NGN 1,000.00</td></tr>
<tr><td>Value Date</td><td>:</td><td>2026-01-10</td></tr>
</table></body></html>`

func newTestExtractor(t testing.TB) *Extractor {
	t.Helper()
	reg, err := templates.Default()
	if err != nil {
		t.Fatalf("load default templates: %v", err)
	}
	return New(reg, logger.Discard())
}

func message(sender, text, html string) *models.RawMessage {
	return &models.RawMessage{
		ID:            "msg-1",
		UniqueID:      "u-1",
		Channel:       "payments@merchant.test",
		SenderAddress: sender,
		Subject:       "Transaction Notification",
		TextBody:      text,
		HTMLBody:      html,
		ReceivedAt:    time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestExtractStrategies(t *testing.T) {
	ex := newTestExtractor(t)

	tests := []struct {
		name    string
		msg     *models.RawMessage
		method  models.ExtractionMethod
		amount  string
		sender  string
		account string
	}{
		{
			name:    "bank template on HTML table",
			msg:     message("GeNS@gtbank.com", "", gtbankHTML),
			method:  models.MethodTemplate,
			amount:  "1000",
			sender:  "amithy one m",
			account: "3002156642",
		},
		{
			name:   "bank template on forwarded text",
			msg:    message("GeNS@gtbank.com", "Amount : NGN 1000\nDescription : 0904-AMITHY ONE M TRF FOR X", ""),
			method: models.MethodTemplate,
			amount: "1000",
			sender: "amithy one m",
		},
		{
			name:   "generic HTML table",
			msg:    message("alerts@unknown.test", "", `<table><tr><th>Amount</th><td>₦5,000.00</td></tr><tr><th>Sender Name</th><td>John Doe</td></tr></table>`),
			method: models.MethodHTMLTable,
			amount: "5000",
			sender: "john doe",
		},
		{
			name:   "HTML without tables",
			msg:    message("alerts@unknown.test", "", `<div><p>You received NGN 2,500.00 from JANE ROE to ACME</p></div>`),
			method: models.MethodHTMLText,
			amount: "2500",
			sender: "jane roe",
		},
		{
			name:    "plain text body",
			msg:     message("alerts@unknown.test", "Credit Alert\nAmount: NGN 12,000.50\nRemarks: Mr. Musa Bello/INV22\nAccount Number: 0123456789", ""),
			method:  models.MethodRenderedText,
			amount:  "12000.5",
			sender:  "musa bello",
			account: "0123456789",
		},
		{
			name:   "fallback loose number",
			msg:    message("alerts@unknown.test", "Payment of 3,200.00 received", ""),
			method: models.MethodFallback,
			amount: "3200",
		},
		{
			name:   "naira shorthand after a dotted date",
			msg:    message("alerts@unknown.test", "Date: 01.03.2024\nYou have received N5,000.00 from JOHN DOE to ACME", ""),
			method: models.MethodRenderedText,
			amount: "5000",
			sender: "john doe",
		},
		{
			name:   "fallback skips dates and small figures",
			msg:    message("alerts@unknown.test", "Date: 01.03.2024 at 09.15\nFee 5.00\nPayment of 3,200.00 received", ""),
			method: models.MethodFallback,
			amount: "3200",
		},
		{
			name:   "partial name from earlier strategy",
			msg:    message("alerts@unknown.test", "NGN 700.00 credited", `<table><tr><td>Sender Name</td><td>Ada Obi</td></tr></table>`),
			method: models.MethodRenderedText,
			amount: "700",
			sender: "ada obi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, diag := ex.Extract(tt.msg)
			if info == nil {
				t.Fatalf("expected extraction, got none: %s %v", diag.Summary(), diag.Errors)
			}
			if info.Method != tt.method {
				t.Errorf("expected method %s, got %s (%s)", tt.method, info.Method, diag.Summary())
			}
			if !info.Amount.Equal(decimal.RequireFromString(tt.amount)) {
				t.Errorf("expected amount %s, got %s", tt.amount, info.Amount)
			}
			if info.Name() != tt.sender {
				t.Errorf("expected sender %q, got %q", tt.sender, info.Name())
			}
			if info.Account() != tt.account {
				t.Errorf("expected account %q, got %q", tt.account, info.Account())
			}
			if info.AmountSource != models.AmountExtracted {
				t.Errorf("expected extracted amount source, got %s", info.AmountSource)
			}
			if len(diag.Steps) != len(models.ExtractionMethods) {
				t.Errorf("expected one step per strategy, got %d", len(diag.Steps))
			}
		})
	}
}

func TestTemplateWinsOverGenericStrategies(t *testing.T) {
	reg, err := templates.New([]templates.Template{{
		Bank:     "Sample Bank",
		Aliases:  []string{"samplebank.test"},
		Priority: 1,
		Rules:    templates.Rules{AmountLabels: []string{"inflow"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	body := `<table><tr><td>Fee</td><td>NGN 50.00</td></tr><tr><td>Inflow</td><td>NGN 7,500.00</td></tr></table>`

	info, diag := New(reg, logger.Discard()).Extract(message("alerts@samplebank.test", "", body))
	if info == nil || info.Method != models.MethodTemplate {
		t.Fatalf("expected template extraction, got %+v (%s)", info, diag.Summary())
	}
	if !info.Amount.Equal(decimal.NewFromInt(7500)) {
		t.Errorf("expected template amount 7500, got %s", info.Amount)
	}
	if info.TemplateBank != "Sample Bank" || diag.TemplateBank != "Sample Bank" {
		t.Errorf("expected template bank to be recorded, got %q/%q", info.TemplateBank, diag.TemplateBank)
	}
	for _, step := range diag.Steps[1:] {
		if step.Status != models.StepSkipped {
			t.Errorf("expected %s to be skipped, got %s", step.Method, step.Status)
		}
	}

	generic, _ := New(nil, logger.Discard()).Extract(message("alerts@samplebank.test", "", body))
	if generic == nil || generic.Method != models.MethodHTMLText || !generic.Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected generic strategies to pick a different amount, got %+v", generic)
	}
}

func TestExtractEmptyBodies(t *testing.T) {
	ex := newTestExtractor(t)
	msg := message("GeNS@gtbank.com", "  ", "")

	info, diag := ex.Extract(msg)
	if info != nil {
		t.Fatalf("expected no extraction, got %+v", info)
	}
	if len(diag.Steps) != 5 {
		t.Fatalf("expected five steps, got %d", len(diag.Steps))
	}
	for _, step := range diag.Steps {
		if step.Status != models.StepFailed {
			t.Errorf("expected %s to fail, got %s", step.Method, step.Status)
		}
	}
	if len(diag.Errors) != 5 {
		t.Errorf("expected five extraction errors, got %v", diag.Errors)
	}
	if len(diag.Issues) != 1 || diag.Issues[0] != IssueNoBody {
		t.Errorf("expected empty-body issue, got %v", diag.Issues)
	}
}

func TestExtractNoAmount(t *testing.T) {
	ex := newTestExtractor(t)
	info, diag := ex.Extract(message("friend@mail.test", "See you at lunch tomorrow", "<p>hello</p>"))
	if info != nil {
		t.Fatalf("expected no extraction, got %+v", info)
	}
	if len(diag.Issues) != 2 {
		t.Errorf("expected keyword and table issues, got %v", diag.Issues)
	}
	if diag.TextLength != len("See you at lunch tomorrow") || diag.HTMLPreview != "<p>hello</p>" {
		t.Error("expected body snapshots in diagnostics")
	}
}

func TestReExtract(t *testing.T) {
	ex := newTestExtractor(t)
	htmlBody := `<table><tr><td>Amount</td><td>NGN 4,000.00</td></tr></table>`

	t.Run("text body first", func(t *testing.T) {
		res := ex.ReExtract(message("alerts@unknown.test", "Amount: NGN 4,100.00", htmlBody))
		if res.Info == nil || !res.Info.Amount.Equal(decimal.NewFromInt(4100)) {
			t.Fatalf("expected text body amount, got %+v", res.Info)
		}
		if !res.TextBodyUsed || res.HTMLBodyUsed {
			t.Errorf("expected only text body used, got text=%v html=%v", res.TextBodyUsed, res.HTMLBodyUsed)
		}
	})

	t.Run("falls back to HTML", func(t *testing.T) {
		res := ex.ReExtract(message("alerts@unknown.test", "Hello there", htmlBody))
		if res.Info == nil || !res.Info.Amount.Equal(decimal.NewFromInt(4000)) {
			t.Fatalf("expected HTML body amount, got %+v", res.Info)
		}
		if !res.TextBodyUsed || !res.HTMLBodyUsed {
			t.Errorf("expected both bodies used, got text=%v html=%v", res.TextBodyUsed, res.HTMLBodyUsed)
		}
		if len(res.Diagnostics.Steps) != 10 {
			t.Errorf("expected steps from both passes, got %d", len(res.Diagnostics.Steps))
		}
		if res.Diagnostics.Steps[0].Body != "text" || res.Diagnostics.Steps[9].Body != "html" {
			t.Error("expected steps tagged with their body")
		}
	})

	t.Run("no bodies", func(t *testing.T) {
		res := ex.ReExtract(message("alerts@unknown.test", "", ""))
		if res.Info != nil || res.TextBodyUsed || res.HTMLBodyUsed {
			t.Errorf("expected empty result, got %+v", res)
		}
		if len(res.Diagnostics.Steps) != 5 {
			t.Errorf("expected five failed steps, got %d", len(res.Diagnostics.Steps))
		}
	})
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{" John DOE ", "john doe"},
		{"JOSÉ   Ñúñez", "jose nunez"},
		{"\tAda\nObi", "ada obi"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeName(tt.input); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"Mr. Musa Bello/INV22", "musa bello"},
		{"Alhaji Sani Abubakar", "sani abubakar"},
		{"ab", ""},
		{"payer@mail.test", ""},
		{"your account", ""},
		{"Chief Dr Okafor 123", "okafor"},
	}
	for _, tt := range tests {
		if got := cleanName(tt.input); got != tt.want {
			t.Errorf("cleanName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestHTMLToText(t *testing.T) {
	doc, ok := parseHTML(`<html><head><title>x</title></head><body><script>var a=1;</script>
<p>Line&nbsp;one</p><div>Line <b>two</b></div>Three<br>Four
<table><tr><td>A</td><td>B</td></tr></table></body></html>`)
	if !ok {
		t.Fatal("expected HTML to parse")
	}
	got := htmlToText(doc)
	want := "Line one\nLine two\nThree\nFour\nA B"
	if got != want {
		t.Errorf("htmlToText() = %q, want %q", got, want)
	}
	if strings.Contains(got, "var a") {
		t.Error("expected script content to be dropped")
	}
}

func BenchmarkExtract(b *testing.B) {
	ex := newTestExtractor(b)
	msgs := []*models.RawMessage{
		message("GeNS@gtbank.com", "", gtbankHTML),
		message("alerts@unknown.test", "Credit Alert\nAmount: NGN 12,000.50\nRemarks: Musa Bello", ""),
		message("alerts@unknown.test", "Payment of 3,200.00 received", ""),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ex.Extract(msgs[i%len(msgs)])
	}
}
