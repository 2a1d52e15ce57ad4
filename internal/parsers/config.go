package parsers

import (
	"fmt"
	"strings"
	"time"
)

// RequestParserConfig maps the columns of a payment request export
type RequestParserConfig struct {
	IDColumn            string            `json:"id_column" mapstructure:"id_column"`
	ReferenceColumn     string            `json:"reference_column" mapstructure:"reference_column"`
	MerchantColumn      string            `json:"merchant_column" mapstructure:"merchant_column"`
	AmountColumn        string            `json:"amount_column" mapstructure:"amount_column"`
	PayerNameColumn     string            `json:"payer_name_column" mapstructure:"payer_name_column"`
	AccountNumberColumn string            `json:"account_number_column" mapstructure:"account_number_column"`
	CreatedAtColumn     string            `json:"created_at_column" mapstructure:"created_at_column"`
	ExpiresAtColumn     string            `json:"expires_at_column" mapstructure:"expires_at_column"`
	HasHeader           bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter           rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases       map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`

	// DefaultMerchantID fills rows without a merchant column value
	DefaultMerchantID string `json:"default_merchant_id,omitempty" mapstructure:"default_merchant_id"`

	// DefaultTTL sets expires_at from created_at for rows without one; 0 means never
	DefaultTTL time.Duration `json:"default_ttl,omitempty" mapstructure:"default_ttl"`
}

// DefaultRequestParserConfig returns the column layout written by the
// merchant dashboard export
func DefaultRequestParserConfig() *RequestParserConfig {
	return &RequestParserConfig{
		IDColumn:            "id",
		ReferenceColumn:     "reference",
		MerchantColumn:      "merchant_id",
		AmountColumn:        "amount",
		PayerNameColumn:     "payer_name",
		AccountNumberColumn: "account_number",
		CreatedAtColumn:     "created_at",
		ExpiresAtColumn:     "expires_at",
		HasHeader:           true,
		Delimiter:           ',',
	}
}

// Validate checks if the configuration is usable
func (c *RequestParserConfig) Validate() error {
	if strings.TrimSpace(c.ReferenceColumn) == "" {
		return fmt.Errorf("reference column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if strings.TrimSpace(c.CreatedAtColumn) == "" {
		return fmt.Errorf("created at column cannot be empty")
	}
	if strings.TrimSpace(c.MerchantColumn) == "" && strings.TrimSpace(c.DefaultMerchantID) == "" {
		return fmt.Errorf("either a merchant column or a default merchant is required")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.DefaultTTL < 0 {
		return fmt.Errorf("default TTL cannot be negative, got %s", c.DefaultTTL)
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *RequestParserConfig) GetColumnName(standardName string) string {
	if alias, ok := c.ColumnAliases[standardName]; ok {
		return alias
	}

	switch standardName {
	case "id":
		return c.IDColumn
	case "reference":
		return c.ReferenceColumn
	case "merchant_id":
		return c.MerchantColumn
	case "amount":
		return c.AmountColumn
	case "payer_name":
		return c.PayerNameColumn
	case "account_number":
		return c.AccountNumberColumn
	case "created_at":
		return c.CreatedAtColumn
	case "expires_at":
		return c.ExpiresAtColumn
	default:
		return standardName
	}
}

// requiredColumns lists the columns a file must carry
func (c *RequestParserConfig) requiredColumns() []string {
	cols := []string{c.GetColumnName("reference"), c.GetColumnName("amount"), c.GetColumnName("created_at")}
	if c.DefaultMerchantID == "" {
		cols = append(cols, c.GetColumnName("merchant_id"))
	}
	return cols
}
