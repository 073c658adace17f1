package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fedcoord/fedledger/rpc"
	"github.com/fedcoord/fedledger/rpc/api"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("unavailable")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
)

// HTTPLedgerClient talks to the REST front end of a ledger daemon.
type HTTPLedgerClient struct {
	baseURL  *url.URL
	client   *retryablehttp.Client
	identity string
}

type clientOptionFunc func(*HTTPLedgerClient)

// WithIdentity makes the client act as the given base58 identity.
func WithIdentity(id string) clientOptionFunc {
	return func(c *HTTPLedgerClient) {
		c.identity = id
	}
}

// WithRetries bounds the retries of failed requests.
func WithRetries(n int) clientOptionFunc {
	return func(c *HTTPLedgerClient) {
		c.client.RetryMax = n
	}
}

// NewHTTPLedgerClient returns new instance of HTTPLedgerClient connecting to the specified url.
func NewHTTPLedgerClient(baseUrl string, opts ...clientOptionFunc) (*HTTPLedgerClient, error) {
	baseURL, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	c := &HTTPLedgerClient{
		baseURL: baseURL,
		client:  client,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPLedgerClient) Info(ctx context.Context) (*api.InfoResponse, error) {
	resBody := api.InfoResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/info", nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting ledger info: %w", err)
	}
	return &resBody, nil
}

// Register enrolls the client identity with the given stake.
func (c *HTTPLedgerClient) Register(ctx context.Context, stake uint64) error {
	request := api.RegisterRequest{Stake: stake}
	return c.req(ctx, http.MethodPost, "/v1/participants", &request, &api.RegisterResponse{})
}

func (c *HTTPLedgerClient) StartRound(ctx context.Context) (uint64, error) {
	resBody := api.StartRoundResponse{}
	if err := c.req(ctx, http.MethodPost, "/v1/rounds", nil, &resBody); err != nil {
		return 0, err
	}
	return resBody.Round, nil
}

func (c *HTTPLedgerClient) SubmitUpdate(ctx context.Context, hash string) error {
	request := api.SubmitUpdateRequest{Hash: hash}
	return c.req(ctx, http.MethodPost, "/v1/updates", &request, &api.SubmitUpdateResponse{})
}

func (c *HTTPLedgerClient) Aggregate(ctx context.Context, hash string) error {
	request := api.AggregateRequest{Hash: hash}
	return c.req(ctx, http.MethodPost, "/v1/rounds/aggregate", &request, &api.AggregateResponse{})
}

func (c *HTTPLedgerClient) ClaimRewards(ctx context.Context) (*api.ClaimRewardsResponse, error) {
	resBody := api.ClaimRewardsResponse{}
	if err := c.req(ctx, http.MethodPost, "/v1/rewards/claim", nil, &resBody); err != nil {
		return nil, err
	}
	return &resBody, nil
}

func (c *HTTPLedgerClient) Participant(ctx context.Context, id string) (*api.ParticipantResponse, error) {
	resBody := api.ParticipantResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/participants/"+url.PathEscape(id), nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting participant: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPLedgerClient) GlobalModel(ctx context.Context, round uint64) (*api.GlobalModelResponse, error) {
	resBody := api.GlobalModelResponse{}
	path := "/v1/rounds/" + strconv.FormatUint(round, 10)
	if err := c.req(ctx, http.MethodGet, path, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting global model: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPLedgerClient) Update(ctx context.Context, round uint64, id string) (*api.UpdateResponse, error) {
	resBody := api.UpdateResponse{}
	path := fmt.Sprintf("/v1/rounds/%d/updates/%s", round, url.PathEscape(id))
	if err := c.req(ctx, http.MethodGet, path, nil, &resBody); err != nil {
		return nil, fmt.Errorf("getting update: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPLedgerClient) PendingPayouts(ctx context.Context) ([]api.Payout, error) {
	resBody := api.PayoutsResponse{}
	if err := c.req(ctx, http.MethodGet, "/v1/payouts", nil, &resBody); err != nil {
		return nil, fmt.Errorf("listing payouts: %w", err)
	}
	return resBody.Payouts, nil
}

func (c *HTTPLedgerClient) SettlePayout(ctx context.Context, id string) error {
	path := "/v1/payouts/" + url.PathEscape(id) + "/settle"
	return c.req(ctx, http.MethodPost, path, nil, &api.SettlePayoutResponse{})
}

// Backup asks the daemon to snapshot the ledger (operator only).
func (c *HTTPLedgerClient) Backup(ctx context.Context) (*api.BackupResponse, error) {
	resBody := api.BackupResponse{}
	if err := c.req(ctx, http.MethodPost, "/v1/backups", nil, &resBody); err != nil {
		return nil, fmt.Errorf("backing up ledger: %w", err)
	}
	return &resBody, nil
}

func (c *HTTPLedgerClient) req(ctx context.Context, method, path string, reqBody, resBody any) error {
	var body io.Reader
	if reqBody != nil {
		jsonReqBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(jsonReqBody)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.identity != "" {
		req.Header.Set(rpc.IdentityHeader, c.identity)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading response body (%w)", err)
	}

	var sentinel error
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusServiceUnavailable:
		sentinel = ErrUnavailable
	case http.StatusBadRequest:
		sentinel = ErrInvalidRequest
	case http.StatusUnauthorized:
		sentinel = ErrUnauthenticated
	case http.StatusForbidden:
		sentinel = ErrForbidden
	case http.StatusConflict:
		sentinel = ErrConflict
	default:
		return fmt.Errorf("unrecognized error: status code: %s, body: %s", res.Status, string(data))
	}
	if sentinel != nil {
		var e struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(data, &e); err != nil || e.Message == "" {
			return fmt.Errorf("%w: response status code: %s, body: %s", sentinel, res.Status, string(data))
		}
		return fmt.Errorf("%w: %s", sentinel, e.Message)
	}

	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return fmt.Errorf("decoding response body: %w", err)
		}
	}
	return nil
}
