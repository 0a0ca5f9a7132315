package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const defaultUserAgent = "gasrelay/1.0"

// HTTPOptions parameterise a JSON gas price API source.
type HTTPOptions struct {
	ID        string
	URL       string
	JSONPath  string
	Decimals  int32 // decimal shift from the API unit to wei (9 for gwei)
	Headers   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches a gas price from a JSON HTTP endpoint.
type HTTP struct {
	opts   HTTPOptions
	logger zerolog.Logger
	client *http.Client
}

// NewHTTP constructs an HTTP gas price source.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:   opts,
		logger: logger.With().Str("component", "http_source").Str("source", opts.ID).Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// ID implements Source.
func (h *HTTP) ID() string { return h.opts.ID }

// Fetch retrieves and decodes the configured field into wei.
func (h *HTTP) Fetch(ctx context.Context) (Sample, error) {
	if h.opts.URL == "" {
		return Sample{}, errors.New("url not configured")
	}
	if h.opts.JSONPath == "" {
		return Sample{}, errors.New("json path not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.opts.URL, nil)
	if err != nil {
		return Sample{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	for k, v := range h.opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Sample{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Sample{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return Sample{}, parseHTTPError(resp.StatusCode, payload)
	}

	if !gjson.ValidBytes(payload) {
		return Sample{}, errors.New("response is not valid json")
	}

	field := gjson.GetBytes(payload, h.opts.JSONPath)
	if !field.Exists() {
		return Sample{}, fmt.Errorf("field %q missing from response", h.opts.JSONPath)
	}

	wei, err := ParseAmount(field, h.opts.Decimals)
	if err != nil {
		return Sample{}, fmt.Errorf("parse %q: %w", h.opts.JSONPath, err)
	}

	h.logger.Debug().Str("wei", wei.String()).Msg("gas price fetched")
	return Sample{SourceID: h.opts.ID, Value: wei, ObservedAt: time.Now().UTC()}, nil
}

// ParseAmount converts a JSON number or string into wei. Hex strings are taken
// as wei verbatim; decimal values are shifted by decimals and floored.
func ParseAmount(field gjson.Result, decimals int32) (*big.Int, error) {
	var raw string
	switch field.Type {
	case gjson.Number:
		raw = field.Raw
	case gjson.String:
		raw = strings.TrimSpace(field.Str)
	default:
		return nil, fmt.Errorf("unexpected json type %s", field.Type)
	}

	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, ok := new(big.Int).SetString(raw[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex quantity %q", raw)
		}
		return v, nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", raw)
	}
	return d.Shift(decimals).Floor().BigInt(), nil
}

func parseHTTPError(status int, payload []byte) error {
	if msg := gjson.GetBytes(payload, "message"); msg.Exists() && msg.String() != "" {
		return fmt.Errorf("gas api error (%d): %s", status, msg.String())
	}
	if msg := gjson.GetBytes(payload, "error"); msg.Exists() && msg.String() != "" {
		return fmt.Errorf("gas api error (%d): %s", status, msg.String())
	}
	if len(payload) > 0 {
		return fmt.Errorf("gas api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("gas api error (%d)", status)
}

var _ Source = (*HTTP)(nil)
