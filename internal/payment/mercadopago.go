package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"abada_sales/internal/apperr"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// MercadoPago 支付通道 REST 客户端。
type MercadoPago struct {
	baseURL     string
	accessToken string
	timeout     time.Duration
	client      *http.Client
}

func NewMercadoPago(baseURL, accessToken string, timeout time.Duration) *MercadoPago {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MercadoPago{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		timeout:     timeout,
		client:      &http.Client{},
	}
}

type mpPayment struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	StatusDetail      string      `json:"status_detail"`
	ExternalReference string      `json:"external_reference"`
	TransactionAmount float64     `json:"transaction_amount"`
	DateCreated       time.Time   `json:"date_created"`
}

func (p mpPayment) toPayment() *Payment {
	return &Payment{
		ID:                p.ID.String(),
		Status:            p.Status,
		StatusDetail:      p.StatusDetail,
		ExternalReference: p.ExternalReference,
		Amount:            p.TransactionAmount,
		DateCreated:       p.DateCreated,
	}
}

func (c *MercadoPago) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if _, err := strconv.ParseUint(paymentID, 10, 64); err != nil {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid payment id %q", paymentID)
	}
	var out mpPayment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (c *MercadoPago) LatestPaymentByReference(ctx context.Context, externalReference string) (*Payment, error) {
	q := url.Values{}
	q.Set("external_reference", externalReference)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", "1")

	var out struct {
		Results []mpPayment `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return out.Results[0].toPayment(), nil
}

type mpPreferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type mpPreferenceRequest struct {
	Items             []mpPreferenceItem `json:"items"`
	ExternalReference string             `json:"external_reference"`
	Payer             struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"payer"`
	NotificationURL string            `json:"notification_url,omitempty"`
	BackURLs        map[string]string `json:"back_urls,omitempty"`
	AutoReturn      string            `json:"auto_return,omitempty"`
}

func (c *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	body := mpPreferenceRequest{
		ExternalReference: req.ExternalReference,
		NotificationURL:   req.NotificationURL,
	}
	body.Payer.Name = req.PayerName
	body.Payer.Email = req.PayerEmail
	for _, it := range req.Items {
		body.Items = append(body.Items, mpPreferenceItem{
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  float64(it.UnitPrice) / 100,
			CurrencyID: "BRL",
		})
	}
	if req.BackURL != "" {
		body.BackURLs = map[string]string{"success": req.BackURL, "pending": req.BackURL, "failure": req.BackURL}
		body.AutoReturn = "approved"
	}

	var out struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &out); err != nil {
		return nil, err
	}
	return &Preference{ID: out.ID, InitPoint: out.InitPoint}, nil
}

func (c *MercadoPago) do(ctx context.Context, method, path string, in, out any) error {
	if c.accessToken == "" {
		return apperr.New(apperr.KindConfiguration, "payment processor access token is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstream, "payment processor unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.KindNotFound, "payment not found")
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return apperr.Newf(apperr.KindConfiguration, "payment processor rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Wrap(apperr.KindUpstream, "payment processor error",
			fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "malformed payment processor response", err)
	}
	return nil
}
