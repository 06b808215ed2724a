// Package ledger implements the narrow facade over the distributed-ledger
// network. Transactions are signed locally, submitted over JSON-RPC 2.0, and
// the client blocks until the network reports finality or the outcome is
// definitively unknown. Submitted transactions are never resubmitted: under
// timeout ambiguity the only safe recovery is reconciliation by client
// reference, not a blind retry.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Transaction status values reported by the network.
const (
	StatusPending   = "pending"
	StatusFinalized = "finalized"
	StatusRejected  = "rejected"
)

// txPayload is the canonical transaction body that gets signed and
// submitted. Field order matters: the signature covers the exact JSON
// encoding of this struct.
type txPayload struct {
	ClientRef   string `json:"client_ref"`
	TokenRef    string `json:"token_ref"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	IssueToken  string `json:"issue_token,omitempty"`
	IssueTo     string `json:"issue_to,omitempty"`
	IssueAmount string `json:"issue_amount,omitempty"`
	Memo        string `json:"memo,omitempty"`
	Nonce       string `json:"nonce"`
}

// submitParams is the tx_submit request body.
type submitParams struct {
	Payload   txPayload `json:"payload"`
	Signature string    `json:"signature"`
	PublicKey string    `json:"public_key"`
}

// txResult is the network's view of a transaction, returned by tx_submit and
// tx_status.
type txResult struct {
	TxRef       string     `json:"tx_ref"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	ConsensusAt *time.Time `json:"consensus_at,omitempty"`
}

// mintParams is the token_create request body.
type mintParams struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      int    `json:"decimals"`
	InitialSupply string `json:"initial_supply"`
	Treasury      string `json:"treasury"`
	Signature     string `json:"signature"`
	PublicKey     string `json:"public_key"`
}

// accountCreateParams is the account_create request body.
type accountCreateParams struct {
	PublicKey string `json:"public_key"`
}

// accountCreateResult is the account_create response.
type accountCreateResult struct {
	Account string `json:"account"`
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
