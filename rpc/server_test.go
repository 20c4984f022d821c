package rpc_test

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/indexer"
	"github.com/tolelom/gameoracle/internal/testutil"
	"github.com/tolelom/gameoracle/rpc"
	"github.com/tolelom/gameoracle/schema"
	"github.com/tolelom/gameoracle/wallet"
)

const token = "secret"

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpc.Error      `json:"error"`
}

type client struct {
	t   *testing.T
	srv *rpc.Server
}

func newClient(t *testing.T, h *testutil.Harness) *client {
	idx := indexer.New(h.DB, h.Emitter, nil)
	handler := rpc.NewHandler(h.Chain, h.Seq, idx, schema.Builtin())
	return &client{t: t, srv: rpc.NewServer("127.0.0.1:0", handler, token, nil)}
}

func (c *client) post(auth string, body any) reply {
	c.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(c.t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	c.srv.ServeHTTP(rec, req)
	require.Equal(c.t, http.StatusOK, rec.Code)

	var r reply
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

// call invokes method and decodes its result into out.
func (c *client) call(method string, params, out any) *rpc.Error {
	c.t.Helper()
	r := c.post(token, map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	if r.Error == nil && out != nil {
		require.NoError(c.t, json.Unmarshal(r.Result, out))
	}
	return r.Error
}

func TestAuthAndEnvelope(t *testing.T) {
	c := newClient(t, testutil.NewHarness(t))
	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "getBlockHeight"}

	r := c.post("", body)
	require.NotNil(t, r.Error)
	assert.Equal(t, rpc.CodeUnauthorized, r.Error.Code)

	r = c.post("wrong", body)
	require.NotNil(t, r.Error)
	assert.Equal(t, rpc.CodeUnauthorized, r.Error.Code)

	r = c.post(token, body)
	require.Nil(t, r.Error)
	assert.JSONEq(t, "0", string(r.Result))

	r = c.post(token, map[string]any{"jsonrpc": "1.0", "id": 1, "method": "getBlockHeight"})
	require.NotNil(t, r.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, r.Error.Code)

	rpcErr := c.call("mintTokens", nil, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeMethodNotFound, rpcErr.Code)
}

func TestSendTx(t *testing.T) {
	h := testutil.NewHarness(t)
	c := newClient(t, h)
	alice := h.NewWallet(100)
	bob := h.NewWallet(0)

	tx, err := alice.Transfer(bob.PubKey(), 40, 0)
	require.NoError(t, err)
	tx.ID = "forged"
	var receipt struct {
		TxID        string `json:"tx_id"`
		BlockHeight int64  `json:"block_height"`
	}
	require.Nil(t, c.call("sendTx", tx, &receipt))
	assert.Equal(t, tx.Hash(), receipt.TxID)
	assert.Equal(t, h.Chain.Height(), receipt.BlockHeight)

	var acc core.Account
	require.Nil(t, c.call("getBalance", map[string]string{"address": bob.PubKey()}, &acc))
	assert.Equal(t, uint64(40), acc.Balance)

	// Replaying the same nonce is an invalid-params failure.
	rpcErr := c.call("sendTx", tx, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)

	other, err := wallet.Generate("other-chain")
	require.NoError(t, err)
	foreign, err := other.Transfer(bob.PubKey(), 1, 0)
	require.NoError(t, err)
	rpcErr = c.call("sendTx", foreign, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)

	tx, err = alice.Transfer(bob.PubKey(), 1000, 1)
	require.NoError(t, err)
	rpcErr = c.call("sendTx", tx, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInsufficientFunds, rpcErr.Code)
}

func TestResultStatus(t *testing.T) {
	h := testutil.NewHarness(t)
	c := newClient(t, h)
	dev := h.RegisterGame("chess")
	id := h.SubmittedMatch(dev, "chess", "round-1")

	var st rpc.ResultStatus
	require.Nil(t, c.call("getResultStatus", map[string]string{"id": id}, &st))
	assert.Equal(t, "chess", st.GameID)
	assert.Equal(t, h.Now()+int64(h.Params.DisputeWindow), st.FinalizesAt)
	assert.False(t, st.IsFinalized)

	// The free view never carries the payload.
	var raw map[string]any
	require.Nil(t, c.call("getResultStatus", map[string]string{"id": id}, &raw))
	assert.NotContains(t, raw, "payload")

	h.Advance(h.Params.DisputeWindow)
	require.Nil(t, c.call("getResultStatus", map[string]string{"id": id}, &st))
	assert.True(t, st.IsFinalized, "finality is derived from ledger time")

	rpcErr := c.call("getResultStatus", map[string]string{"id": "missing"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)

	rpcErr = c.call("getResultStatus", map[string]string{}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeInvalidParams, rpcErr.Code)
}

func TestBlocksWithholdResultPayloads(t *testing.T) {
	h := testutil.NewHarness(t)
	c := newClient(t, h)
	dev := h.RegisterGame("chess")
	h.SubmittedMatch(dev, "chess", "round-1")
	secret := base64.StdEncoding.EncodeToString(testutil.MatchResult)

	var redacted, payloads int
	for height := int64(0); height <= h.Chain.Height(); height++ {
		r := c.post(token, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "getBlock", "params": map[string]int64{"height": height}})
		require.Nil(t, r.Error)
		assert.NotContains(t, string(r.Result), secret)
		assert.NotContains(t, string(r.Result), "field_values")

		var b rpc.BlockView
		require.NoError(t, json.Unmarshal(r.Result, &b))
		assert.Equal(t, height, b.Header.Height)
		for _, tx := range b.Transactions {
			if tx.Type == core.TxSubmitResult {
				assert.True(t, tx.Redacted)
				assert.Empty(t, tx.Payload)
				redacted++
			} else if len(tx.Payload) > 0 && string(tx.Payload) != "null" {
				payloads++
			}
		}
	}
	assert.Equal(t, 1, redacted)
	assert.NotZero(t, payloads, "other transactions keep their payloads")

	// The tip is served the same way.
	r := c.post(token, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "getBlock"})
	require.Nil(t, r.Error)
	assert.NotContains(t, string(r.Result), secret)
}

func TestLookups(t *testing.T) {
	h := testutil.NewHarness(t)
	c := newClient(t, h)
	dev := h.RegisterGame("chess")
	id := h.ScheduleMatch(dev, "chess", "round-1")
	consumer := h.Consume(core.Unit)

	var ids []string
	require.Nil(t, c.call("getMatchesByGame", map[string]string{"game_id": "chess"}, &ids))
	assert.Equal(t, []string{id}, ids)
	require.Nil(t, c.call("getDisputesByGame", map[string]string{"game_id": "chess"}, &ids))
	assert.Empty(t, ids)

	var m core.Match
	require.Nil(t, c.call("getMatchByExternal", map[string]string{"game_id": "chess", "external_id": "round-1"}, &m))
	assert.Equal(t, id, m.ID)
	rpcErr := c.call("getMatchByExternal", map[string]string{"game_id": "chess", "external_id": "nope"}, nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, rpc.CodeNotFound, rpcErr.Code)

	var g core.Game
	require.Nil(t, c.call("getGame", map[string]string{"id": "chess"}, &g))
	assert.Equal(t, dev.PubKey(), g.Developer)

	var free uint64
	require.Nil(t, c.call("getRemainingFreeQueries", map[string]string{"address": consumer.PubKey()}, &free))
	assert.Equal(t, h.Params.FreeQueriesPerDay, free)

	var ok bool
	require.Nil(t, c.call("isResolver", map[string]string{"address": h.Resolver.PubKey()}, &ok))
	assert.True(t, ok)

	var schemas []map[string]any
	require.Nil(t, c.call("listSchemas", nil, &schemas))
	assert.NotEmpty(t, schemas)
}
