// Package prover talks to the external proving backend and normalizes its
// return values. Proof generation is deterministic for identical inputs and
// slow (tens of seconds), so the HTTP client carries a generous timeout and
// every call is context-aware.
package prover

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

	"github.com/veilmarkets/veil-trader/internal/circuit"
)

// Result is a generated proof together with the backend's raw public-output
// payload. Raw is left undecoded here; the extractor owns shape handling.
type Result struct {
	Proof         []byte
	PublicOutputs any
	// PublicInputs echoes the field elements the proof was bound to, in the
	// order the verifier expects them. Calldata must reproduce these exactly.
	PublicInputs []*big.Int
}

// Client generates proofs for circuit input sets.
type Client interface {
	Prove(ctx context.Context, in *circuit.InputSet) (*Result, error)
}

// HTTPClient calls a proving-service endpoint over JSON.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a prover client for the given service URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type proveRequest struct {
	Action           int    `json:"action"`
	Margin           string `json:"margin"`
	Size             string `json:"size"`
	EntryPrice       string `json:"entry_price"`
	TraderSecret     string `json:"trader_secret"`
	IsLong           bool   `json:"is_long"`
	Market           string `json:"market"`
	OraclePrice      string `json:"oracle_price"`
	OracleTimestamp  int64  `json:"oracle_timestamp"`
	CurrentTimestamp int64  `json:"current_timestamp"`
	SourceCount      uint   `json:"source_count"`
	MaxStalenessSec  int64  `json:"max_staleness_sec"`
	Leverage         uint   `json:"leverage"`
	SlippageBps      uint   `json:"slippage_bps"`
	FeeBps           uint   `json:"fee_bps"`
	LockedCollateral string `json:"locked_collateral,omitempty"`
}

type proveResponse struct {
	Proof         string          `json:"proof"`
	PublicOutputs json.RawMessage `json:"public_outputs"`
	PublicInputs  []string        `json:"public_inputs"`
	Error         string          `json:"error,omitempty"`
}

// Prove submits the input set and returns the proof with its raw outputs.
// The backend rejects inputs that violate circuit constraints; that surfaces
// here as a non-2xx response with an error body.
func (c *HTTPClient) Prove(ctx context.Context, in *circuit.InputSet) (*Result, error) {
	reqBody := proveRequest{
		Action:           int(in.Action),
		Margin:           in.Margin.String(),
		Size:             in.Size.String(),
		EntryPrice:       in.EntryPrice.String(),
		TraderSecret:     in.TraderSecret.String(),
		IsLong:           in.IsLong,
		Market:           in.Market.String(),
		OraclePrice:      in.OraclePrice.String(),
		OracleTimestamp:  in.OracleTimestamp,
		CurrentTimestamp: in.CurrentTimestamp,
		SourceCount:      in.SourceCount,
		MaxStalenessSec:  in.MaxStalenessSec,
		Leverage:         in.Leverage,
		SlippageBps:      in.SlippageBps,
		FeeBps:           in.FeeBps,
	}
	if in.LockedCollateral != nil {
		reqBody.LockedCollateral = in.LockedCollateral.String()
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prove", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prover request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var pr proveResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("prover response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if pr.Error != "" {
			return nil, fmt.Errorf("prover rejected inputs: %s", pr.Error)
		}
		return nil, fmt.Errorf("prover status %d", resp.StatusCode)
	}

	proof, err := base64.StdEncoding.DecodeString(pr.Proof)
	if err != nil {
		return nil, fmt.Errorf("prover proof encoding: %w", err)
	}

	publicInputs := make([]*big.Int, 0, len(pr.PublicInputs))
	for _, s := range pr.PublicInputs {
		x, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("prover public input %q not an integer", s)
		}
		publicInputs = append(publicInputs, x)
	}

	var raw any
	if len(pr.PublicOutputs) > 0 {
		if err := json.Unmarshal(pr.PublicOutputs, &raw); err != nil {
			return nil, fmt.Errorf("prover public outputs: %w", err)
		}
	}

	return &Result{Proof: proof, PublicOutputs: raw, PublicInputs: publicInputs}, nil
}
