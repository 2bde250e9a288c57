package panelhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PulseVote/OrderWatch/internal/integrations/voteapi"
	"github.com/pkg/errors"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// New builds a panel client. timeout bounds every call; the reconciler relies
// on it so one stalled request cannot stall a whole run.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

type statusResp struct {
	Status         string `json:"status"`
	VotesDelivered *int64 `json:"votes_delivered"`
}

type submitResp struct {
	OrderNumber string `json:"order_number"`
}

func (c *Client) GetOrderStatus(ctx context.Context, orderNumber string) (voteapi.StatusResult, error) {
	body, err := c.post(ctx, "/api/v2/status", map[string]any{"order_number": orderNumber})
	if err != nil {
		return voteapi.StatusResult{}, err
	}

	var r statusResp
	if err := json.Unmarshal(body, &r); err != nil {
		return voteapi.StatusResult{}, errors.Wrap(err, "decode status response")
	}
	// Панель иногда отвечает 200 с пустым телом; считаем это ошибкой заказа.
	if r.Status == "" {
		return voteapi.StatusResult{}, fmt.Errorf("panel response has no status field")
	}

	return voteapi.StatusResult{
		Status:         r.Status,
		VotesDelivered: r.VotesDelivered,
	}, nil
}

func (c *Client) SubmitOrder(ctx context.Context, service, link string, quantity int64) (voteapi.SubmitResult, error) {
	body, err := c.post(ctx, "/api/v2/order", map[string]any{
		"service":  service,
		"link":     link,
		"quantity": quantity,
	})
	if err != nil {
		return voteapi.SubmitResult{}, err
	}

	var r submitResp
	if err := json.Unmarshal(body, &r); err != nil {
		return voteapi.SubmitResult{}, errors.Wrap(err, "decode submit response")
	}
	if r.OrderNumber == "" {
		return voteapi.SubmitResult{}, fmt.Errorf("panel response has no order_number field")
	}

	return voteapi.SubmitResult{OrderNumber: r.OrderNumber}, nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("panel http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
