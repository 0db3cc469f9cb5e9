package polymarket

// Order execution via the CLOB API. Implements ports.OrderExecutor with
// AuthClient for L1/L2 auth. Orders are submitted as marketable FAK limits
// so they either cross immediately or die without resting on the book.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	TakingAmount       string   `json:"takingAmount"`
	MakingAmount       string   `json:"makingAmount"`
	Status             string   `json:"status"`
	Success            bool     `json:"success"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var balanceOfABI abi.ABI

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
}

// NewTradingClient creates a TradingClient. rpcURL is used for on-chain
// balance checks.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	return &TradingClient{auth: auth, rpcClient: rpc}, nil
}

// SubmitOrder signs and submits one order. It makes exactly one POST /order
// attempt: the caller owns any retry decision, and a network failure after
// the POST leaves the order state unknown, so it surfaces as an
// *domain.ExecutionError rather than a transient error.
func (tc *TradingClient) SubmitOrder(ctx context.Context, req ports.OrderRequest) (domain.ExecutionResult, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.ExecutionResult{}, execError("Rejected", fmt.Sprintf("derive credentials: %v", err))
	}

	negRisk, err := tc.isNegRisk(ctx, req.TokenID)
	if err != nil {
		return domain.ExecutionResult{}, execError("Rejected", fmt.Sprintf("neg-risk check: %v", err))
	}

	signed, err := tc.auth.buildSignedOrder(req.TokenID, req.Side, req.Size, req.PriceBound, negRisk)
	if err != nil {
		return domain.ExecutionResult{}, execError("Rejected", fmt.Sprintf("sign order: %v", err))
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.creds.APIKey,
		OrderType: "FAK",
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ExecutionResult{}, execError("Timeout", err.Error())
		}
		return domain.ExecutionResult{}, execError("Rejected", err.Error())
	}

	if !resp.Success || resp.ErrorMsg != "" {
		code := "Rejected"
		if strings.Contains(strings.ToLower(resp.ErrorMsg), "balance") ||
			strings.Contains(strings.ToLower(resp.ErrorMsg), "allowance") {
			code = "InsufficientFunds"
		}
		return domain.ExecutionResult{}, execError(code, resp.ErrorMsg)
	}

	return domain.ExecutionResult{
		OrderID:      resp.OrderID,
		Status:       resp.Status,
		TakingAmount: resp.TakingAmount,
		MakingAmount: resp.MakingAmount,
		TxHashes:     resp.TransactionsHashes,
	}, nil
}

// GetBalance returns the on-chain USDC.e balance of the wallet.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpcClient.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return bal, nil
}

// isNegRisk queries whether a token trades through the NegRisk adapter.
func (tc *TradingClient) isNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s/neg-risk?token_id=%s", tc.auth.clobBase, tokenID)

	var resp clobNegRiskResponse
	if err := tc.auth.get(ctx, tc.auth.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("neg-risk check: %w", err)
	}
	return resp.NegRisk, nil
}

func execError(code, msg string) *domain.ExecutionError {
	return &domain.ExecutionError{Code: code, Message: msg}
}
