package extractor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/templates"
)

// Strategy is one way of pulling payment fields out of a message. A strategy
// returns whatever it found, possibly without an amount, or an error saying
// why it could not run.
type Strategy interface {
	Method() models.ExtractionMethod
	Extract(in *input) (fields, error)
}

// input is a message with its HTML parsed once for all strategies
type input struct {
	msg      *models.RawMessage
	doc      *html.Node
	htmlText string
}

func newInput(msg *models.RawMessage) *input {
	in := &input{msg: msg}
	if doc, ok := parseHTML(msg.HTMLBody); ok {
		in.doc = doc
		in.htmlText = htmlToText(doc)
	}
	return in
}

var (
	errEmptyText = fmt.Errorf("text body is empty")
	errEmptyHTML = fmt.Errorf("HTML body is empty")
	errNoBody    = fmt.Errorf("both bodies are empty")
)

type templateStrategy struct {
	registry *templates.Registry
}

func (s *templateStrategy) Method() models.ExtractionMethod { return models.MethodTemplate }

func (s *templateStrategy) Extract(in *input) (fields, error) {
	tmpl, ok := s.registry.Lookup(in.msg.SenderAddress, in.msg.SenderDisplayName)
	if !ok {
		return fields{}, fmt.Errorf("no template matches sender %q", in.msg.From())
	}
	if in.doc == nil && strings.TrimSpace(in.msg.TextBody) == "" {
		return fields{bank: tmpl.Bank}, errNoBody
	}

	var f fields
	if in.doc != nil {
		r := tmpl.Rules
		f = scanRows(tableRows(in.doc), r.AmountLabels, r.NameLabels, r.AccountLabels)
	}
	for _, text := range []string{in.msg.TextBody, in.htmlText} {
		if strings.TrimSpace(text) == "" {
			continue
		}
		f.merge(fields{
			amount:  firstAmount(text, tmpl.AmountPatterns()),
			name:    firstName(text, tmpl.NamePatterns()),
			account: firstAccount(text, tmpl.AccountPatterns()),
		})
	}
	f.bank = tmpl.Bank
	return f, nil
}

type htmlTableStrategy struct{}

func (htmlTableStrategy) Method() models.ExtractionMethod { return models.MethodHTMLTable }

func (htmlTableStrategy) Extract(in *input) (fields, error) {
	if in.doc == nil {
		return fields{}, errEmptyHTML
	}
	if !hasTable(in.doc) {
		return fields{}, fmt.Errorf("HTML body has no tables")
	}
	f := scanRows(tableRows(in.doc), amountLabels, append(append([]string{}, nameLabels...), remarkLabels...), accountLabels)
	return f, nil
}

type htmlTextStrategy struct{}

func (htmlTextStrategy) Method() models.ExtractionMethod { return models.MethodHTMLText }

func (htmlTextStrategy) Extract(in *input) (fields, error) {
	if in.doc == nil {
		return fields{}, errEmptyHTML
	}
	if in.htmlText == "" {
		return fields{}, fmt.Errorf("HTML body renders to no text")
	}
	return scanText(in.htmlText), nil
}

type renderedTextStrategy struct{}

func (renderedTextStrategy) Method() models.ExtractionMethod { return models.MethodRenderedText }

func (renderedTextStrategy) Extract(in *input) (fields, error) {
	if strings.TrimSpace(in.msg.TextBody) == "" {
		return fields{}, errEmptyText
	}
	return scanText(in.msg.TextBody), nil
}

// fallbackStrategy accepts any plausible money figure from whichever body has content
type fallbackStrategy struct{}

func (fallbackStrategy) Method() models.ExtractionMethod { return models.MethodFallback }

func (fallbackStrategy) Extract(in *input) (fields, error) {
	text := in.msg.TextBody
	if strings.TrimSpace(text) == "" {
		text = in.htmlText
	}
	if strings.TrimSpace(text) == "" {
		return fields{}, errNoBody
	}
	f := scanText(text)
	if f.amount == nil {
		f.amount = firstAmountAtLeast(text, looseAmountPatterns, decimal.NewFromInt(MinPlausibleAmount))
	}
	return f, nil
}

// DefaultStrategies returns the five strategies in priority order
func DefaultStrategies(registry *templates.Registry) []Strategy {
	return []Strategy{
		&templateStrategy{registry: registry},
		htmlTableStrategy{},
		htmlTextStrategy{},
		renderedTextStrategy{},
		fallbackStrategy{},
	}
}
