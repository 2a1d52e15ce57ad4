package parsers

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/pkg/errors"
	"golang-payment-matcher/pkg/logger"
)

// RequestParser reads payment requests from CSV exports
type RequestParser struct {
	*BaseParser
	config *RequestParserConfig
	logger logger.Logger
}

// NewRequestParser creates a parser for the given column layout
func NewRequestParser(config *RequestParserConfig) (*RequestParser, error) {
	if config == nil {
		config = DefaultRequestParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "request_parser", config, err).
			WithSuggestion("check the request import column mapping")
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = config.HasHeader
	parseConfig.Delimiter = config.Delimiter

	return &RequestParser{
		BaseParser: NewBaseParser(parseConfig),
		config:     config,
		logger:     logger.WithComponent("request_parser"),
	}, nil
}

// ParseFile parses a CSV file of payment requests
func (rp *RequestParser) ParseFile(ctx context.Context, path string) ([]*models.PaymentRequest, *ParseStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.InputError(errors.CodeUnreadableFile, path, err)
	}
	defer f.Close()

	requests, stats, err := rp.Parse(ctx, f, path)
	if err != nil {
		return requests, stats, err
	}

	rp.logger.WithFields(logger.Fields{
		"file":    path,
		"valid":   stats.RecordsValid,
		"invalid": stats.ErrorCount,
	}).Info("payment requests parsed")
	return requests, stats, nil
}

// Parse reads payment requests from r. Rows that fail validation are counted
// in the stats and skipped; only an unreadable header or a cancelled context
// fails the whole parse.
func (rp *RequestParser) Parse(ctx context.Context, r io.Reader, name string) ([]*models.PaymentRequest, *ParseStats, error) {
	reader, err := rp.NewReader(r, name)
	if err != nil {
		return nil, nil, err
	}

	pc := NewParseContext(ctx)
	stats := NewParseStats()
	if err := rp.ReadHeaders(reader, pc, rp.config.requiredColumns()); err != nil {
		return nil, stats, err
	}

	var requests []*models.PaymentRequest
	for {
		record, err := rp.ReadRecord(reader, pc)
		if err == io.EOF {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return requests, stats, errors.InternalError(errors.CodeUnexpectedError, "parse payment requests", ctxErr)
		}
		if err != nil {
			var pe *ParseError
			var csvErr *csv.ParseError
			switch {
			case stderrors.As(err, &pe):
				stats.AddError(pe)
			case stderrors.As(err, &csvErr):
				stats.AddError(&ParseError{Line: csvErr.Line, Field: "record", Message: "malformed CSV", Err: err})
			default:
				return requests, stats, errors.InputError(errors.CodeUnreadableFile, name, err)
			}
			continue
		}

		stats.RecordsParsed++
		req, perr := rp.parseRecord(record, pc)
		if perr != nil {
			stats.AddError(perr)
			continue
		}
		stats.RecordsValid++
		requests = append(requests, req)
	}

	stats.TotalLines = pc.LineNumber
	if stats.HasErrors() {
		rp.logger.WithFields(logger.Fields{
			"file":    name,
			"errors":  stats.ErrorCount,
			"samples": stats.GetSampleErrors(3),
		}).Warn("some payment request rows were skipped")
	}
	return requests, stats, nil
}

func (rp *RequestParser) parseRecord(record []string, pc *ParseContext) (*models.PaymentRequest, *ParseError) {
	get := func(field string) string {
		return rp.GetFieldValue(record, pc, rp.config.GetColumnName(field))
	}
	fail := func(field, value, message string, err error) *ParseError {
		return &ParseError{Line: pc.LineNumber, Field: field, Value: value, Message: message, Err: err}
	}

	req := &models.PaymentRequest{
		ID:            get("id"),
		Reference:     get("reference"),
		MerchantID:    get("merchant_id"),
		AccountNumber: models.NormalizeAccountNumber(get("account_number")),
		Status:        models.StatusPending,
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Reference == "" {
		return nil, fail("reference", "", "reference is required", nil)
	}
	if req.MerchantID == "" {
		req.MerchantID = rp.config.DefaultMerchantID
	}
	if payer := get("payer_name"); payer != "" {
		req.PayerNameHint = &payer
	}

	raw := get("amount")
	amount, err := models.ParseAmount(raw)
	if err != nil {
		return nil, fail("amount", raw, "invalid amount", err)
	}
	req.Amount = amount

	raw = get("created_at")
	if req.CreatedAt, err = models.ParseTimeWithFormats(raw); err != nil {
		return nil, fail("created_at", raw, "invalid timestamp", err)
	}
	req.CreatedAt = req.CreatedAt.UTC()

	if raw = get("expires_at"); raw != "" {
		expires, err := models.ParseTimeWithFormats(raw)
		if err != nil {
			return nil, fail("expires_at", raw, "invalid timestamp", err)
		}
		expires = expires.UTC()
		req.ExpiresAt = &expires
	} else if rp.config.DefaultTTL > 0 {
		expires := req.CreatedAt.Add(rp.config.DefaultTTL)
		req.ExpiresAt = &expires
	}

	if err := req.Validate(); err != nil {
		return nil, fail("record", strings.Join(record, ","), "invalid payment request", err)
	}
	return req, nil
}
