package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarkets/veil-trader/internal/field"
)

// Gateway is the HTTP implementation of Client against the venue's chain
// gateway. The gateway signs with the account key it was provisioned with;
// this client only shapes calls and polls for finality.
type Gateway struct {
	baseURL      string
	owner        common.Address
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewGateway creates a gateway client for the given base URL and account.
func NewGateway(baseURL string, owner common.Address) *Gateway {
	return &Gateway{
		baseURL:      baseURL,
		owner:        owner,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
	}
}

type txResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

func (g *Gateway) submit(ctx context.Context, path string, body any) (common.Hash, error) {
	var resp txResponse
	if err := g.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return common.Hash{}, err
	}
	if resp.Error != "" {
		return common.Hash{}, fmt.Errorf("gateway %s: %s", path, resp.Error)
	}
	return common.HexToHash(resp.TxHash), nil
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func hexList(xs []*big.Int) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = field.Hex(x)
	}
	return out
}

func (g *Gateway) Deposit(ctx context.Context, market, amount *big.Int) (common.Hash, error) {
	return g.submit(ctx, "/v1/vault/deposit", map[string]any{
		"user":   g.owner.Hex(),
		"market": field.Hex(market),
		"amount": amount.String(),
	})
}

func (g *Gateway) LockCollateral(ctx context.Context, market, amount *big.Int) (common.Hash, error) {
	return g.submit(ctx, "/v1/vault/lock", map[string]any{
		"user":   g.owner.Hex(),
		"market": field.Hex(market),
		"amount": amount.String(),
	})
}

func (g *Gateway) OpenPosition(ctx context.Context, proof []byte, publicInputs, handlerArgs []*big.Int) (common.Hash, error) {
	return g.submit(ctx, "/v1/position/open", map[string]any{
		"proof":         base64.StdEncoding.EncodeToString(proof),
		"public_inputs": hexList(publicInputs),
		"handler_args":  hexList(handlerArgs),
	})
}

func (g *Gateway) ClosePosition(ctx context.Context, proof []byte, publicInputs []*big.Int, commitment field.Commitment128) (common.Hash, error) {
	return g.submit(ctx, "/v1/position/close", map[string]any{
		"proof":         base64.StdEncoding.EncodeToString(proof),
		"public_inputs": hexList(publicInputs),
		"commitment":    string(commitment),
	})
}

type positionResponse struct {
	Commitment string `json:"commitment"`
	Owner      string `json:"owner"`
	Market     string `json:"market"`
	OpenedAt   int64  `json:"opened_at"`
}

func (g *Gateway) GetPosition(ctx context.Context, commitment field.Commitment128) (*PositionRecord, error) {
	var resp positionResponse
	if err := g.doJSON(ctx, http.MethodGet, "/v1/position/"+string(commitment), nil, &resp); err != nil {
		return nil, err
	}
	stored, err := field.ToScalar(resp.Commitment)
	if err != nil {
		// A missing record comes back with an empty commitment.
		stored = new(big.Int)
	}
	market := new(big.Int)
	if resp.Market != "" {
		if market, err = field.ToScalar(resp.Market); err != nil {
			return nil, fmt.Errorf("gateway position market: %w", err)
		}
	}
	return &PositionRecord{
		Commitment: stored,
		Owner:      common.HexToAddress(resp.Owner),
		Market:     market,
		OpenedAt:   time.Unix(resp.OpenedAt, 0),
	}, nil
}

type lockedResponse struct {
	Locked string `json:"locked"`
}

func (g *Gateway) LockedCollateral(ctx context.Context, owner common.Address) (*big.Int, error) {
	var resp lockedResponse
	if err := g.doJSON(ctx, http.MethodGet, "/v1/vault/locked/"+owner.Hex(), nil, &resp); err != nil {
		return nil, err
	}
	locked, ok := new(big.Int).SetString(resp.Locked, 10)
	if !ok {
		return nil, fmt.Errorf("gateway locked amount %q not an integer", resp.Locked)
	}
	return locked, nil
}

type nonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

func (g *Gateway) Nonce(ctx context.Context, owner common.Address) (uint64, error) {
	var resp nonceResponse
	if err := g.doJSON(ctx, http.MethodGet, "/v1/account/"+owner.Hex()+"/nonce", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

type txStatusResponse struct {
	Status string `json:"status"` // pending | accepted | rejected
	Reason string `json:"reason,omitempty"`
}

// WaitForTx polls the gateway until the transaction is final. A rejected
// transaction is an error carrying the gateway's reason.
func (g *Gateway) WaitForTx(ctx context.Context, tx common.Hash) error {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		var resp txStatusResponse
		if err := g.doJSON(ctx, http.MethodGet, "/v1/tx/"+tx.Hex(), nil, &resp); err != nil {
			return err
		}
		switch resp.Status {
		case "accepted":
			return nil
		case "rejected":
			return fmt.Errorf("transaction %s rejected: %s", tx.Hex(), resp.Reason)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Client = (*Gateway)(nil)
