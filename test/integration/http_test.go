package integration_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "x402-go"
	x402http "x402-go/http"
	"x402-go/mechanisms/evm"
	evmclient "x402-go/mechanisms/evm/exact/client"
	evmfacilitator "x402-go/mechanisms/evm/exact/facilitator"
	evmserver "x402-go/mechanisms/evm/exact/server"
)

// mockHTTPAdapter implements x402.HTTPAdapter for driving the middleware
// pipeline without a real net/http round trip.
type mockHTTPAdapter struct {
	headers map[string]string
	method  string
	path    string
}

func (m *mockHTTPAdapter) GetHeader(name string) string  { return m.headers[name] }
func (m *mockHTTPAdapter) GetMethod() string              { return m.method }
func (m *mockHTTPAdapter) GetPath() string                { return m.path }
func (m *mockHTTPAdapter) GetQueryParam(name string) string { return "" }
func (m *mockHTTPAdapter) GetBody() ([]byte, error)       { return nil, nil }

// mockEvmClientSigner signs EIP-712 typed data with a fixed test key.
type mockEvmClientSigner struct{}

func (m *mockEvmClientSigner) Address() string {
	return "0x14791697260E4c9A71f18484C9f997B308e59325"
}

func (m *mockEvmClientSigner) SignTypedData(
	ctx context.Context,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	pk, _ := crypto.HexToECDSA("0123456789012345678901234567890123456789012345678901234567890123")

	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}
	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, err
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, err
	}
	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	hash := crypto.Keccak256(rawData)

	signature, err := crypto.Sign(hash, pk)
	if err != nil {
		return nil, err
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}

func (m *mockEvmClientSigner) ReadContract(context.Context, string, []byte, string, ...interface{}) (interface{}, error) {
	return nil, nil
}

// mockEvmFacilitatorSigner satisfies evm.FacilitatorEvmSigner without any
// chain access: balances are pre-seeded, contract calls are stubbed, and
// every client address is treated as a known, validly-signing EOA.
type mockEvmFacilitatorSigner struct {
	balances map[string]*big.Int
}

func newMockEvmFacilitatorSigner() *mockEvmFacilitatorSigner {
	return &mockEvmFacilitatorSigner{balances: make(map[string]*big.Int)}
}

func (m *mockEvmFacilitatorSigner) GetAddresses() []string {
	return []string{"0xfacilitator1234567890123456789012345678"}
}

func (m *mockEvmFacilitatorSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	if functionName == "authorizationState" {
		return false, nil
	}
	return nil, nil
}

func (m *mockEvmFacilitatorSigner) VerifyTypedData(ctx context.Context, address string, domain evm.TypedDataDomain, types map[string][]evm.TypedDataField, primaryType string, message map[string]interface{}, signature []byte) (bool, error) {
	return address == "0x14791697260E4c9A71f18484C9f997B308e59325", nil
}

func (m *mockEvmFacilitatorSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	return "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", nil
}

func (m *mockEvmFacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", nil
}

func (m *mockEvmFacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{Status: evm.TxStatusSuccess}, nil
}

func (m *mockEvmFacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if balance, ok := m.balances[address+":"+tokenAddress]; ok {
		return balance, nil
	}
	return big.NewInt(10000000000), nil
}

func (m *mockEvmFacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

// TestHTTPIntegration exercises the full unpaid-then-paid request cycle
// through the resource server's framework-agnostic middleware (ProcessRequest
// / SettleAndRespond) against an in-process facilitator, with no HTTP
// transport involved.
func TestHTTPIntegration(t *testing.T) {
	t.Run("EVM exact payment round trip", func(t *testing.T) {
		ctx := context.Background()

		facilitatorSigner := newMockEvmFacilitatorSigner()
		facilitatorSigner.balances["0x14791697260E4c9A71f18484C9f997B308e59325:0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"] = big.NewInt(2000000)

		facilitator := x402.Newx402Facilitator()
		facilitator.RegisterScheme("eip155:8453", evmfacilitator.Wrap(evmfacilitator.NewExactEvmScheme(facilitatorSigner, nil)))

		server := x402.Newx402ResourceServer(
			x402.WithFacilitatorClient(facilitator),
			x402.WithSchemeServer("eip155:8453", evmserver.NewExactEvmScheme()),
		)

		routes := x402http.RoutesConfig{
			"GET /api/protected": {
				Accepts: []x402.ResourceConfig{
					{
						Scheme:  evm.SchemeExact,
						PayTo:   "0xabcdef1234567890123456789012345678901234",
						Price:   "$0.001",
						Network: "eip155:8453",
					},
				},
				Description: "Access to protected API",
				MimeType:    "application/json",
			},
		}
		route := routes["GET /api/protected"]

		adapter := &mockHTTPAdapter{headers: map[string]string{}, method: "GET", path: "/api/protected"}

		result, err := x402http.ProcessRequest(ctx, server, route, adapter)
		if err != nil {
			t.Fatalf("ProcessRequest (unpaid) failed: %v", err)
		}
		if result.StatusCode != 402 {
			t.Fatalf("expected 402, got %d", result.StatusCode)
		}
		if result.Headers[x402http.PaymentRequiredHeader] == "" {
			t.Fatal("expected PAYMENT-REQUIRED header on the 402 response")
		}

		var required x402.PaymentRequired
		if err := json.Unmarshal(result.Body, &required); err != nil {
			t.Fatalf("failed to unmarshal PaymentRequired body: %v", err)
		}
		if len(required.Accepts) != 1 {
			t.Fatalf("expected 1 accepted option, got %d", len(required.Accepts))
		}

		clientSigner := &mockEvmClientSigner{}
		evmClient := evmclient.NewExactEvmScheme(clientSigner)
		payload, err := evmClient.CreatePaymentPayload(ctx, required.Accepts[0])
		if err != nil {
			t.Fatalf("failed to create payment payload: %v", err)
		}
		payload.Accepted = required.Accepts[0]

		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}

		adapter.headers[x402http.PaymentSignatureHeader] = base64.StdEncoding.EncodeToString(payloadBytes)

		result2, err := x402http.ProcessRequest(ctx, server, route, adapter)
		if err != nil {
			t.Fatalf("ProcessRequest (paid) failed: %v", err)
		}
		if result2.StatusCode != 0 {
			t.Fatalf("expected the paid request to pass through, got status %d", result2.StatusCode)
		}
		if result2.Payload == nil || result2.Requirements == nil {
			t.Fatal("expected a verified payload and matched requirements")
		}

		settleHeader, err := x402http.SettleAndRespond(ctx, server, route, result2.Payload, result2.Requirements)
		if err != nil {
			t.Fatalf("SettleAndRespond failed: %v", err)
		}
		if settleHeader == "" {
			t.Fatal("expected a non-empty PAYMENT-RESPONSE header value")
		}
	})
}
