package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Esplora resolves transactions against an Esplora-compatible HTTP API
// (blockstream.info, mempool.space, or a self-hosted electrs).
type Esplora struct {
	base   string
	user   string
	pass   string
	client *http.Client
}

// NewEsplora creates a resolver for the given API base URL, e.g.
// "https://blockstream.info/api". Credentials may be empty.
func NewEsplora(baseURL, user, pass string) *Esplora {
	return &Esplora{
		base:   baseURL,
		user:   user,
		pass:   pass,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *Esplora) Name() string { return "esplora" }

// esploraTx mirrors the subset of the Esplora tx JSON the engine reads.
type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		TxID    string `json:"txid"`
		Vout    uint32 `json:"vout"`
		Prevout struct {
			Address string `json:"scriptpubkey_address"`
			Value   int64  `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		Address string `json:"scriptpubkey_address"`
		Value   int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
}

// Tx fetches and reduces one transaction.
func (e *Esplora) Tx(ctx context.Context, txid string) (*Tx, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+"/tx/"+txid, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: esplora %s: %v", ErrBackend, txid, err)
	}
	if e.user != "" {
		req.SetBasicAuth(e.user, e.pass)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: esplora %s: %v", ErrBackend, txid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: esplora %s: status %d: %s", ErrBackend, txid, resp.StatusCode, body)
	}

	var raw esploraTx
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: esplora %s: %v", ErrBackend, txid, err)
	}
	if !raw.Status.Confirmed {
		return nil, fmt.Errorf("%w: esplora %s: unconfirmed", ErrBackend, txid)
	}

	tx := &Tx{
		TxID: raw.TxID,
		Time: time.Unix(raw.Status.BlockTime, 0).UTC(),
	}
	for _, in := range raw.Vin {
		tx.Ins = append(tx.Ins, TxIn{
			TxID:    in.TxID,
			Vout:    in.Vout,
			Address: in.Prevout.Address,
			Sats:    in.Prevout.Value,
		})
	}
	for _, out := range raw.Vout {
		tx.Outs = append(tx.Outs, TxOut{Address: out.Address, Sats: out.Value})
	}
	return tx, nil
}
