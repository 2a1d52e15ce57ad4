package parsers

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"golang-payment-matcher/internal/models"
	"golang-payment-matcher/internal/reconciler"
	"golang-payment-matcher/pkg/errors"
)

// MessageConfig controls how message files become ingest inputs
type MessageConfig struct {
	// Channel is used when a message names no recipient
	Channel string `json:"channel" mapstructure:"channel"`

	// MerchantID scopes messages that carry no merchant header
	MerchantID string `json:"merchant_id" mapstructure:"merchant_id"`

	// Source is recorded on every loaded message
	Source models.Source `json:"source" mapstructure:"source"`

	// AmountHintHeader names the header a mail gateway uses to pass the credited amount
	AmountHintHeader string `json:"amount_hint_header" mapstructure:"amount_hint_header"`

	// MerchantHeader names the header carrying the merchant scope
	MerchantHeader string `json:"merchant_header" mapstructure:"merchant_header"`

	// MaxBodySize caps each decoded body part
	MaxBodySize int64 `json:"max_body_size" mapstructure:"max_body_size"`

	// Concurrency bounds how many files are decoded at once
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`
}

// DefaultMessageConfig returns the defaults for file based ingestion
func DefaultMessageConfig() *MessageConfig {
	return &MessageConfig{
		Channel:          "file",
		Source:           models.SourceFile,
		AmountHintHeader: "X-Amount-Hint",
		MerchantHeader:   "X-Merchant-Id",
		MaxBodySize:      2 << 20,
		Concurrency:      4,
	}
}

// Validate checks if the configuration is usable
func (c *MessageConfig) Validate() error {
	if strings.TrimSpace(c.Channel) == "" {
		return fmt.Errorf("default channel cannot be empty")
	}
	if c.Source != "" && !c.Source.IsValid() {
		return fmt.Errorf("invalid source %q", c.Source)
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive, got %d", c.MaxBodySize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	return nil
}

// header is satisfied by mail.Header and textproto.MIMEHeader
type header interface {
	Get(key string) string
}

type bodies struct {
	text string
	html string
}

// ParseEML decodes one RFC 822 message. The first text/plain and text/html
// parts found become the bodies; attachments are skipped and a forwarded
// message/rfc822 part is read when the outer message has no body of its own.
func ParseEML(r io.Reader, config *MessageConfig) (*reconciler.IngestInput, error) {
	if config == nil {
		config = DefaultMessageConfig()
	}

	msg, err := mail.ReadMessage(bufio.NewReader(r))
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, "message", err)
	}

	dec := &mime.WordDecoder{CharsetReader: charsetReader}
	in := &reconciler.IngestInput{
		Channel:    config.Channel,
		Source:     config.Source,
		MerchantID: config.MerchantID,
		Subject:    decodeHeader(dec, msg.Header.Get("Subject")),
	}

	rawFrom := msg.Header.Get("From")
	if addr, err := (&mail.AddressParser{WordDecoder: dec}).Parse(rawFrom); err == nil {
		in.SenderAddress = addr.Address
		in.SenderDisplayName = addr.Name
	} else {
		in.SenderAddress = strings.Trim(strings.TrimSpace(rawFrom), "<>")
	}

	for _, key := range []string{"Delivered-To", "X-Original-To", "To"} {
		if addrs, err := msg.Header.AddressList(key); err == nil && len(addrs) > 0 {
			in.Channel = strings.ToLower(addrs[0].Address)
			break
		}
	}

	if in.ReceivedAt, err = msg.Header.Date(); err != nil {
		if in.ReceivedAt, err = models.ParseTimeWithFormats(msg.Header.Get("Date")); err != nil {
			return nil, errors.InputError(errors.CodeMissingField, "Date", err).
				WithSuggestion("the message needs a parseable Date header")
		}
	}
	in.ReceivedAt = in.ReceivedAt.UTC()

	if config.AmountHintHeader != "" {
		in.AmountHint = strings.TrimSpace(msg.Header.Get(config.AmountHintHeader))
	}
	if config.MerchantHeader != "" {
		if merchant := strings.TrimSpace(msg.Header.Get(config.MerchantHeader)); merchant != "" {
			in.MerchantID = merchant
		}
	}

	var b bodies
	if err := readPart(msg.Header, msg.Body, &b, config.MaxBodySize, 0); err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, "body", err)
	}
	in.TextBody = b.text
	in.HTMLBody = b.html
	return in, nil
}

const maxPartDepth = 8

func readPart(h header, body io.Reader, out *bodies, limit int64, depth int) error {
	if depth > maxPartDepth {
		return nil
	}

	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	if disp, _, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil && disp == "attachment" {
		return nil
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := readPart(part.Header, part, out, limit, depth+1); err != nil {
				return err
			}
		}

	case mediaType == "message/rfc822":
		if out.text != "" || out.html != "" {
			return nil
		}
		inner, err := mail.ReadMessage(bufio.NewReader(decodeTransfer(h, body)))
		if err != nil {
			return nil
		}
		return readPart(inner.Header, inner.Body, out, limit, depth+1)

	case mediaType == "text/plain" && out.text == "":
		text, err := readText(h, params["charset"], body, limit)
		if err != nil {
			return err
		}
		out.text = text

	case mediaType == "text/html" && out.html == "":
		html, err := readText(h, params["charset"], body, limit)
		if err != nil {
			return err
		}
		out.html = html
	}
	return nil
}

func decodeTransfer(h header, body io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "quoted-printable":
		return quotedprintable.NewReader(body)
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, body)
	default:
		return body
	}
}

func readText(h header, charset string, body io.Reader, limit int64) (string, error) {
	r := decodeTransfer(h, body)
	if cs := strings.ToLower(strings.TrimSpace(charset)); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		decoded, err := charsetReader(cs, r)
		if err == nil {
			r = decoded
		}
	}
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

func decodeHeader(dec *mime.WordDecoder, value string) string {
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}

// ParseJSON decodes ingest records from a JSON array, a single object or one
// object per line. Missing channel, source and merchant are filled from config.
func ParseJSON(r io.Reader, config *MessageConfig) ([]reconciler.IngestInput, error) {
	if config == nil {
		config = DefaultMessageConfig()
	}

	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InputError(errors.CodeUnreadableFile, "json", err)
	}

	var inputs []reconciler.IngestInput
	dec := json.NewDecoder(br)
	if first == '[' {
		if err := dec.Decode(&inputs); err != nil {
			return nil, errors.InputError(errors.CodeUnreadableFile, "json", err)
		}
	} else {
		for {
			var in reconciler.IngestInput
			err := dec.Decode(&in)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.InputError(errors.CodeUnreadableFile, fmt.Sprintf("json record %d", len(inputs)+1), err)
			}
			inputs = append(inputs, in)
		}
	}

	for i := range inputs {
		if inputs[i].Channel == "" {
			inputs[i].Channel = config.Channel
		}
		if inputs[i].Source == "" {
			inputs[i].Source = config.Source
		}
		if inputs[i].MerchantID == "" {
			inputs[i].MerchantID = config.MerchantID
		}
	}
	return inputs, nil
}

// firstNonSpace skips a byte order mark and leading whitespace and returns the
// first significant byte without consuming it
func firstNonSpace(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
