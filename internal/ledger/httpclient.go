package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terminal-bench/payoutd/internal/payout"
)

// HTTPClient is a Client backed by a ledger node's JSON API. Transport faults
// and 5xx answers come back wrapped in payout.TransientError so the pipeline
// retries them on the next tick; a tripped breaker short-circuits the same way.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *breaker
	log     *logrus.Entry
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// BreakerFailures is the consecutive transport failures before failing
	// fast; BreakerCooldown is how long to stay open.
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          *logrus.Logger
}

// NewHTTPClient builds a client for the node at cfg.BaseURL.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		log:     cfg.Logger.WithField("component", "ledger"),
	}
}

// ArtifactHash is the key the node indexes submitted transactions by.
func ArtifactHash(artifact []byte) string {
	sum := sha256.Sum256(artifact)
	return hex.EncodeToString(sum[:])
}

// doJSON runs one request through the breaker and decodes a JSON body into out.
// A nil error with a non-2xx status is returned as (status, nil) for the
// caller to interpret; transport faults and 5xx become transient errors.
func (c *HTTPClient) doJSON(ctx context.Context, method, url string, body, out any) (int, error) {
	if err := c.breaker.allow(); err != nil {
		return 0, &payout.TransientError{Err: err}
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.recordFailure()
		return 0, &payout.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.recordFailure()
		return resp.StatusCode, &payout.TransientError{Err: fmt.Errorf("node returned %d", resp.StatusCode)}
	}
	c.breaker.recordSuccess()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// AccountInfo fetches the ledger's view of an account, including its next
// usable sequence number.
func (c *HTTPClient) AccountInfo(ctx context.Context, address string) (AccountInfo, error) {
	var info AccountInfo
	status, err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/v1/accounts/"+address, nil, &info)
	if err != nil {
		return AccountInfo{}, err
	}
	if status != http.StatusOK {
		return AccountInfo{}, fmt.Errorf("account %s: node returned %d", address, status)
	}
	return info, nil
}

type submitRequest struct {
	Artifact string `json:"artifact"`
}

type submitResponse struct {
	Result string `json:"result"`
}

// Submit pushes one signed artifact and classifies the engine result.
func (c *HTTPClient) Submit(ctx context.Context, artifact []byte) (SubmitResult, error) {
	req := submitRequest{Artifact: base64.StdEncoding.EncodeToString(artifact)}
	var resp submitResponse
	status, err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/transactions", req, &resp)
	if err != nil {
		return SubmitResult{}, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return SubmitResult{}, fmt.Errorf("submit: node returned %d", status)
	}
	result := ClassifySubmit(resp.Result)
	c.log.WithFields(logrus.Fields{
		"code":    resp.Result,
		"outcome": result.Outcome.String(),
	}).Debug("submission classified")
	return result, nil
}

type confirmResponse struct {
	Status string `json:"status"`
}

// Confirm probes the node for a previously submitted artifact. A 404 means
// the node dropped it without applying it, which can never self-heal.
func (c *HTTPClient) Confirm(ctx context.Context, artifact []byte) (ConfirmOutcome, error) {
	var resp confirmResponse
	url := c.baseURL + "/v1/transactions/" + ArtifactHash(artifact)
	status, err := c.doJSON(ctx, http.MethodGet, url, nil, &resp)
	if err != nil {
		return ConfirmPending, err
	}
	switch {
	case status == http.StatusNotFound:
		return ConfirmLost, nil
	case status != http.StatusOK:
		return ConfirmPending, fmt.Errorf("confirm: node returned %d", status)
	}
	switch resp.Status {
	case "confirmed":
		return ConfirmConfirmed, nil
	case "pending", "queued":
		return ConfirmPending, nil
	default:
		return ConfirmPending, fmt.Errorf("confirm: unknown status %q", resp.Status)
	}
}
