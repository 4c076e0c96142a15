package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Bitcoind resolves transactions against a bitcoind JSON-RPC endpoint.
// The node must run with txindex=1 so getrawtransaction answers for
// arbitrary txids. Input values are not part of the raw transaction, so
// each funding transaction is fetched too; the cache layer above keeps
// that from fanning out on reruns.
type Bitcoind struct {
	url    string
	user   string
	pass   string
	client *http.Client
}

// NewBitcoind creates a resolver for the given RPC URL, e.g.
// "http://localhost:8332". Credentials go into HTTP basic auth.
func NewBitcoind(url, user, pass string) *Bitcoind {
	return &Bitcoind{
		url:    url,
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *Bitcoind) Name() string { return "bitcoind" }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// bitcoindTx mirrors the subset of the getrawtransaction verbose result
// the engine reads. Values arrive as BTC decimals, not sats.
type bitcoindTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		TxID     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Coinbase string `json:"coinbase"`
	} `json:"vin"`
	Vout []struct {
		Value        json.Number `json:"value"`
		ScriptPubKey struct {
			Address string `json:"address"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
	Confirmations int64 `json:"confirmations"`
	BlockTime     int64 `json:"blocktime"`
}

func (b *Bitcoind) getRawTransaction(ctx context.Context, txid string) (*bitcoindTx, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0", ID: "coinledger",
		Method: "getrawtransaction", Params: []any{txid, true},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoind %s: %v", ErrBackend, txid, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoind %s: %v", ErrBackend, txid, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.user != "" {
		req.SetBasicAuth(b.user, b.pass)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoind %s: %v", ErrBackend, txid, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result *bitcoindTx `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: bitcoind %s: status %d: %v", ErrBackend, txid, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("%w: bitcoind %s: rpc %d: %s", ErrBackend, txid, envelope.Error.Code, envelope.Error.Message)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("%w: bitcoind %s: empty result", ErrBackend, txid)
	}
	return envelope.Result, nil
}

// Tx fetches and reduces one transaction, resolving every non-coinbase
// input against its funding transaction.
func (b *Bitcoind) Tx(ctx context.Context, txid string) (*Tx, error) {
	raw, err := b.getRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if raw.Confirmations < 1 {
		return nil, fmt.Errorf("%w: bitcoind %s: unconfirmed", ErrBackend, txid)
	}

	tx := &Tx{
		TxID: raw.TxID,
		Time: time.Unix(raw.BlockTime, 0).UTC(),
	}
	funding := make(map[string]*bitcoindTx)
	for _, in := range raw.Vin {
		if in.Coinbase != "" {
			continue
		}
		prev, ok := funding[in.TxID]
		if !ok {
			if prev, err = b.getRawTransaction(ctx, in.TxID); err != nil {
				return nil, err
			}
			funding[in.TxID] = prev
		}
		if int(in.Vout) >= len(prev.Vout) {
			return nil, fmt.Errorf("%w: bitcoind %s: input spends %s:%d beyond %d outputs",
				ErrBackend, txid, in.TxID, in.Vout, len(prev.Vout))
		}
		spent := prev.Vout[in.Vout]
		sats, err := btcToSats(spent.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: bitcoind %s: %v", ErrBackend, txid, err)
		}
		tx.Ins = append(tx.Ins, TxIn{
			TxID:    in.TxID,
			Vout:    in.Vout,
			Address: spent.ScriptPubKey.Address,
			Sats:    sats,
		})
	}
	for _, out := range raw.Vout {
		sats, err := btcToSats(out.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: bitcoind %s: %v", ErrBackend, txid, err)
		}
		tx.Outs = append(tx.Outs, TxOut{Address: out.ScriptPubKey.Address, Sats: sats})
	}
	return tx, nil
}

// btcToSats converts a BTC decimal from the RPC JSON into satoshis
// exactly; going through a float would corrupt values above 2^53 sats.
func btcToSats(v json.Number) (int64, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return 0, fmt.Errorf("bad value %q: %v", v, err)
	}
	return d.Shift(8).IntPart(), nil
}
