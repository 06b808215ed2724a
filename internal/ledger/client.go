package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meridianfi/rwa-engine/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultFinalityTimeout = 90 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 1 * time.Second
	DefaultMaxDelay        = 10 * time.Second
)

// Client implements domain.LedgerClient over HTTP JSON-RPC 2.0, with an
// optional websocket subscription for finality.
type Client struct {
	endpoint        string
	wsEndpoint      string
	client          *http.Client
	treasuryKey     []byte
	maxRetries      int
	retryDelay      time.Duration
	maxDelay        time.Duration
	finalityTimeout time.Duration
	pollInterval    time.Duration
	requestID       atomic.Uint64
	logger          *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithFinalityTimeout bounds how long a call waits for consensus before
// giving up with an unknown outcome.
func WithFinalityTimeout(d time.Duration) Option {
	return func(c *Client) { c.finalityTimeout = d }
}

// WithMaxRetries sets maximum pre-submission retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMaxDelay caps the retry backoff.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) { c.maxDelay = d }
}

// WithPollInterval sets the finality polling cadence used when no websocket
// endpoint is configured.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithWSEndpoint enables websocket finality subscription. Polling remains
// the fallback when the subscription fails.
func WithWSEndpoint(endpoint string) Option {
	return func(c *Client) { c.wsEndpoint = endpoint }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a ledger Client. treasuryKey signs every transaction that is
// not explicitly signed with a user-held key.
func New(endpoint string, treasuryKey []byte, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:        endpoint,
		client:          &http.Client{Timeout: DefaultTimeout},
		treasuryKey:     treasuryKey,
		maxRetries:      DefaultMaxRetries,
		retryDelay:      DefaultRetryDelay,
		maxDelay:        DefaultMaxDelay,
		finalityTimeout: DefaultFinalityTimeout,
		pollInterval:    DefaultPollInterval,
		logger:          logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TransferFungible signs and submits a token transfer (optionally bundled
// with a share-token issuance leg) and blocks until the network reports
// finality. See the package comment for the retry policy.
func (c *Client) TransferFungible(ctx context.Context, req domain.TransferRequest, issue *domain.IssueRequest) (domain.Receipt, error) {
	payload := txPayload{
		ClientRef: req.ClientRef,
		TokenRef:  req.TokenRef,
		From:      req.From,
		To:        req.To,
		Amount:    req.Amount.String(),
		Memo:      req.Memo,
		Nonce:     uuid.New().String(),
	}
	if issue != nil {
		payload.IssueToken = issue.ShareTokenRef
		payload.IssueTo = issue.ToAddress
		payload.IssueAmount = issue.Amount.String()
	}

	key := req.SigningKey
	if key == nil {
		key = c.treasuryKey
	}
	sig, pub, err := signPayload(payload, key)
	if err != nil {
		return domain.Receipt{}, err
	}

	var res txResult
	if err := c.call(ctx, "tx_submit", submitParams{
		Payload:   payload,
		Signature: sig,
		PublicKey: pub,
	}, &res); err != nil {
		return domain.Receipt{}, c.mapCallError("submit transfer", req.ClientRef, err)
	}

	return c.resolve(ctx, req.ClientRef, res)
}

// MintAndIssue creates a new pool share token. Used only at tokenization
// time; signed by the treasury.
func (c *Client) MintAndIssue(ctx context.Context, spec domain.TokenSpec) (domain.Receipt, error) {
	// The signature covers the same canonical-JSON scheme as transfers, with
	// the client ref carrying the token symbol.
	payload := txPayload{
		ClientRef: "mint-" + spec.Symbol + "-" + uuid.New().String(),
		TokenRef:  spec.Symbol,
		From:      spec.Treasury,
		To:        spec.Treasury,
		Amount:    spec.InitialSupply.String(),
		Nonce:     uuid.New().String(),
	}
	sig, pub, err := signPayload(payload, c.treasuryKey)
	if err != nil {
		return domain.Receipt{}, err
	}

	var res txResult
	if err := c.call(ctx, "token_create", mintParams{
		Name:          spec.Name,
		Symbol:        spec.Symbol,
		Decimals:      spec.Decimals,
		InitialSupply: spec.InitialSupply.String(),
		Treasury:      spec.Treasury,
		Signature:     sig,
		PublicKey:     pub,
	}, &res); err != nil {
		return domain.Receipt{}, c.mapCallError("mint token", spec.Symbol, err)
	}

	return c.resolve(ctx, payload.ClientRef, res)
}

// GetTransaction looks a transaction up by its client reference. Used by
// reconciliation after an ambiguous outcome.
func (c *Client) GetTransaction(ctx context.Context, clientRef string) (domain.Receipt, error) {
	var res txResult
	if err := c.call(ctx, "tx_status", map[string]string{"client_ref": clientRef}, &res); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) && rpcErr.Code == codeNotFound {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("ledger: get transaction %s: %w", clientRef, err)
	}
	if res.TxRef == "" {
		return domain.Receipt{}, domain.ErrNotFound
	}

	switch res.Status {
	case StatusFinalized:
		return receiptOf(res), nil
	case StatusRejected:
		return domain.Receipt{}, &domain.LedgerRejectedError{
			Reason: mapReason(res.Reason),
			TxRef:  res.TxRef,
			Detail: res.Reason,
		}
	default:
		return domain.Receipt{}, domain.ErrLedgerTimeout
	}
}

// CreateAccount onboards a ledger account for the given public key.
func (c *Client) CreateAccount(ctx context.Context, publicKey string) (string, error) {
	var res accountCreateResult
	if err := c.call(ctx, "account_create", accountCreateParams{PublicKey: publicKey}, &res); err != nil {
		return "", c.mapCallError("create account", publicKey, err)
	}
	if res.Account == "" {
		return "", fmt.Errorf("ledger: create account: empty account ref")
	}
	return res.Account, nil
}

// codeNotFound is the JSON-RPC error code the network uses for unknown
// transaction references.
const codeNotFound = -32001

// resolve takes the network's immediate response to a submission and waits
// out finality. A submission that reached the network is never replayed:
// from here on every failure mode funnels into finalized, rejected, or
// unknown.
func (c *Client) resolve(ctx context.Context, clientRef string, res txResult) (domain.Receipt, error) {
	switch res.Status {
	case StatusFinalized:
		return receiptOf(res), nil
	case StatusRejected:
		return domain.Receipt{}, &domain.LedgerRejectedError{
			Reason: mapReason(res.Reason),
			TxRef:  res.TxRef,
			Detail: res.Reason,
		}
	}
	return c.waitForFinality(ctx, clientRef)
}

// waitForFinality blocks until the transaction reaches consensus, is
// rejected, or the finality timeout elapses (unknown outcome).
func (c *Client) waitForFinality(ctx context.Context, clientRef string) (domain.Receipt, error) {
	deadline := time.Now().Add(c.finalityTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if c.wsEndpoint != "" {
		res, err := c.subscribeFinality(ctx, clientRef)
		if err == nil {
			return c.finalResult(clientRef, res)
		}
		c.logger.WarnContext(ctx, "finality subscription failed, falling back to polling",
			slog.String("client_ref", clientRef),
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.WarnContext(context.Background(), "finality wait timed out",
				slog.String("client_ref", clientRef),
			)
			return domain.Receipt{}, fmt.Errorf("ledger: tx %s: %w", clientRef, domain.ErrLedgerTimeout)
		case <-ticker.C:
			var res txResult
			if err := c.call(ctx, "tx_status", map[string]string{"client_ref": clientRef}, &res); err != nil {
				// Transient status-poll failures are absorbed; the deadline
				// bounds the total wait.
				continue
			}
			if res.Status == StatusFinalized || res.Status == StatusRejected {
				return c.finalResult(clientRef, res)
			}
		}
	}
}

func (c *Client) finalResult(clientRef string, res txResult) (domain.Receipt, error) {
	if res.Status == StatusRejected {
		return domain.Receipt{}, &domain.LedgerRejectedError{
			Reason: mapReason(res.Reason),
			TxRef:  res.TxRef,
			Detail: res.Reason,
		}
	}
	c.logger.Info("transaction finalized",
		slog.String("client_ref", clientRef),
		slog.String("tx_ref", res.TxRef),
	)
	return receiptOf(res), nil
}

// mapCallError classifies a transport/RPC failure from a submission call.
// RPC-level errors are definitive rejections; exhausted transport retries
// mean the transaction may or may not have reached the network, so the
// outcome is unknown.
func (c *Client) mapCallError(op, ref string, err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return &domain.LedgerRejectedError{
			Reason: mapReason(rpcErr.Message),
			Detail: rpcErr.Message,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ledger: %s %s: %w", op, ref, domain.ErrLedgerTimeout)
	}
	return fmt.Errorf("ledger: %s %s: %w: %v", op, ref, domain.ErrLedgerTimeout, err)
}

func receiptOf(res txResult) domain.Receipt {
	r := domain.Receipt{TxRef: res.TxRef}
	if res.ConsensusAt != nil {
		r.ConsensusAt = *res.ConsensusAt
	}
	return r
}

// mapReason normalizes network rejection strings into the domain taxonomy.
func mapReason(reason string) domain.RejectReason {
	switch {
	case strings.Contains(reason, "insufficient"):
		return domain.ReasonInsufficientBalance
	case strings.Contains(reason, "unassociated"):
		return domain.ReasonUnassociatedAccount
	case strings.Contains(reason, "signature"):
		return domain.ReasonInvalidSignature
	default:
		return domain.ReasonUnknown
	}
}

// call performs a JSON-RPC call with transport-level retries and exponential
// backoff. A lost response or a 429/5xx may mean the node already received
// the request, so replays are safe only because every attempt re-sends the
// byte-identical body: for tx_submit the nonce and client_ref repeat and the
// network deduplicates the submission. RPC-level errors are returned
// immediately and never retried.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Compile-time interface check.
var _ domain.LedgerClient = (*Client)(nil)
