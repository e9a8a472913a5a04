// Package ledger posts invoice journals to the external general ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const journalPath = "/journal-entries"

// ErrNotConfigured is returned when no ledger base URL is set.
var ErrNotConfigured = errors.New("ledger is not configured")

type Config struct {
	BaseURL        string
	Token          string
	RatePerSecond  float64
	ARAccount      string
	RevenueAccount string
	TaxAccount     string
	Timeout        time.Duration
}

// InvoicePosting is the accounting view of a posted invoice.
type InvoicePosting struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string
	Date          time.Time
	Net           decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

type journalLine struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Memo    string          `json:"memo,omitempty"`
}

type journalEntry struct {
	Reference string        `json:"reference"`
	Date      string        `json:"date"`
	Source    string        `json:"source"`
	Lines     []journalLine `json:"lines"`
}

type errorBody struct {
	Message string `json:"message"`
}

// RejectedError is the ledger refusing an entry. Its public message carries
// only the ledger's own reason.
type RejectedError struct {
	InvoiceNumber string
	StatusCode    int
	Message       string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ledger rejected %s (%d): %s", e.InvoiceNumber, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger rejected %s (%d)", e.InvoiceNumber, e.StatusCode)
}

func (e *RejectedError) PublicMessage() string {
	if e.Message != "" {
		return "ledger rejected the entry: " + e.Message
	}
	return fmt.Sprintf("ledger rejected the entry (status %d)", e.StatusCode)
}

// zapLogger routes resty's retry and debug output through zap.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }
func (l zapLogger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l zapLogger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }

type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetLogger(zapLogger{s: logger.Named("ledger").Sugar()})
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	}

	return &Client{
		cfg:     cfg,
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}
}

// journal builds the balanced entry for an invoice: debit receivables with
// the total, credit revenue with the net amount and credit tax payable when
// there is tax.
func (c *Client) journal(p InvoicePosting) []journalLine {
	lines := []journalLine{
		{Account: c.cfg.ARAccount, Debit: p.Total, Credit: decimal.Zero, Memo: p.InvoiceNumber},
		{Account: c.cfg.RevenueAccount, Debit: decimal.Zero, Credit: p.Net, Memo: p.InvoiceNumber},
	}
	if p.Tax.IsPositive() {
		lines = append(lines, journalLine{Account: c.cfg.TaxAccount, Debit: decimal.Zero, Credit: p.Tax, Memo: p.InvoiceNumber})
	}
	return lines
}

// PostInvoice sends the invoice journal. The invoice id is the idempotency
// key, so the ledger accepts a repeated post of the same invoice once.
func (c *Client) PostInvoice(ctx context.Context, p InvoicePosting) error {
	if c.cfg.BaseURL == "" {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", p.InvoiceID.String()).
		SetBody(journalEntry{
			Reference: p.InvoiceNumber,
			Date:      p.Date.Format("2006-01-02"),
			Source:    "sales_invoice",
			Lines:     c.journal(p),
		}).
		SetError(&apiErr).
		Post(journalPath)
	if err != nil {
		return fmt.Errorf("post journal: %w", err)
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("ledger answered %d for %s", resp.StatusCode(), p.InvoiceNumber)
	}
	if resp.IsError() {
		return &RejectedError{InvoiceNumber: p.InvoiceNumber, StatusCode: resp.StatusCode(), Message: apiErr.Message}
	}
	return nil
}
