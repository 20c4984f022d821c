// Package rpc exposes the oracle over a JSON-RPC 2.0 HTTP endpoint.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/tolelom/gameoracle/core"
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// BlockView is a block as served to clients. Result payloads are withheld;
// the only way to read one is a paid query.
type BlockView struct {
	Header       core.BlockHeader `json:"header"`
	Transactions []TxView         `json:"transactions"`
	Hash         string           `json:"hash"`
	Signature    string           `json:"signature"`
}

// TxView is a transaction inside a BlockView.
type TxView struct {
	core.Transaction
	Redacted bool `json:"redacted,omitempty"`
}

func newBlockView(b *core.Block) BlockView {
	v := BlockView{Header: b.Header, Hash: b.Hash, Signature: b.Signature, Transactions: make([]TxView, len(b.Transactions))}
	for i, tx := range b.Transactions {
		v.Transactions[i].Transaction = *tx
		if tx.Type == core.TxSubmitResult {
			v.Transactions[i].Payload = nil
			v.Transactions[i].Redacted = true
		}
	}
	return v
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Oracle error codes, one per core error category.
const (
	CodeUnauthorized      = -32000
	CodeNotFound          = -32001
	CodeAlreadyExists     = -32002
	CodeInvalidState      = -32003
	CodeInsufficientFunds = -32004
	CodeWindow            = -32005
	CodeTransferFailed    = -32006
	CodeReentrant         = -32007
)

// errorCode classifies err by its core category.
func errorCode(err error) int {
	switch {
	case errors.Is(err, core.ErrReentrant):
		return CodeReentrant
	case errors.Is(err, core.ErrTransferFailed):
		return CodeTransferFailed
	case errors.Is(err, core.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, core.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, core.ErrInsufficientStake), errors.Is(err, core.ErrInsufficientBalance):
		return CodeInsufficientFunds
	case errors.Is(err, core.ErrWindowClosed), errors.Is(err, core.ErrWindowNotElapsed):
		return CodeWindow
	case errors.Is(err, core.ErrInvalidParams):
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

func errResponse(id any, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: msg},
	}
}

func okResponse(id, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}
