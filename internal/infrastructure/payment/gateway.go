package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrTransport covers anything that prevented a usable answer from the rail:
// network failures, timeouts, non-2xx replies and undecodable bodies.
var ErrTransport = errors.New("payment rail unavailable")

const StatusPaid = "PAID"

type Gateway interface {
	CheckStatus(ctx context.Context, fingerprint string) (*StatusResponse, error)
}

// StatusResponse is the decoded reply; Raw keeps the body as received.
type StatusResponse struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Raw     json.RawMessage `json:"-"`
}

// IsPaid is the only shape treated as settlement.
func (r *StatusResponse) IsPaid() bool {
	return r != nil && r.Success && r.Status == StatusPaid
}

type httpGateway struct {
	client  *http.Client
	baseURL string
	token   string
	timeout time.Duration
}

// NewHTTPGateway checks payments with GET {baseURL}/check_payment/{fingerprint}.
// Each call is bounded by timeout.
func NewHTTPGateway(client *http.Client, baseURL, token string, timeout time.Duration) Gateway {
	if client == nil {
		client = &http.Client{}
	}
	return &httpGateway{client: client, baseURL: baseURL, token: token, timeout: timeout}
}

func (g *httpGateway) CheckStatus(ctx context.Context, fingerprint string) (*StatusResponse, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.baseURL+"/check_payment/"+url.PathEscape(fingerprint), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	var out StatusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrTransport, err)
	}
	out.Raw = json.RawMessage(body)
	return &out, nil
}
