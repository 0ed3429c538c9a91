package unit_test

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "x402-go"
	"x402-go/mechanisms/evm"
	evmclient "x402-go/mechanisms/evm/exact/client"
)

// Mock EVM signer for client
type mockClientEvmSigner struct {
	address string
}

func (m *mockClientEvmSigner) Address() string {
	// Corresponds to private key: 0x0123456789012345678901234567890123456789012345678901234567890123
	return "0x14791697260E4c9A71f18484C9f997B308e59325"
}

func (m *mockClientEvmSigner) SignTypedData(
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
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
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

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
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

func (m *mockClientEvmSigner) ReadContract(
	ctx context.Context,
	address string,
	abi []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	return nil, nil
}

// Mock EVM signer for facilitator
type mockFacilitatorEvmSigner struct {
	balances map[string]*big.Int
	nonces   map[string]bool
}

func newMockFacilitatorEvmSigner() *mockFacilitatorEvmSigner {
	return &mockFacilitatorEvmSigner{
		balances: make(map[string]*big.Int),
		nonces:   make(map[string]bool),
	}
}

func (m *mockFacilitatorEvmSigner) Address() string {
	return "0xfacilitator1234567890123456789012345678"
}

func (m *mockFacilitatorEvmSigner) GetAddresses() []string {
	return []string{m.Address()}
}

func (m *mockFacilitatorEvmSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	// For testing, report every address as having deployed contract code
	return []byte{0x60, 0x60}, nil
}

func (m *mockFacilitatorEvmSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	key := address + ":" + tokenAddress
	if balance, ok := m.balances[key]; ok {
		return balance, nil
	}
	return big.NewInt(10000000000), nil // 10,000 USDC
}

func (m *mockFacilitatorEvmSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil // Base mainnet
}

func (m *mockFacilitatorEvmSigner) ReadContract(
	ctx context.Context,
	address string,
	abi []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if functionName == "authorizationState" {
		return false, nil
	}
	return nil, nil
}

func (m *mockFacilitatorEvmSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abi []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	return "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", nil
}

func (m *mockFacilitatorEvmSigner) SendTransaction(
	ctx context.Context,
	to string,
	data []byte,
) (string, error) {
	return "0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef", nil
}

func (m *mockFacilitatorEvmSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TransactionReceipt, error) {
	return &evm.TransactionReceipt{
		Status: evm.TxStatusSuccess,
	}, nil
}

func (m *mockFacilitatorEvmSigner) VerifyTypedData(
	ctx context.Context,
	address string,
	domain evm.TypedDataDomain,
	types map[string][]evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	return address == "0x1234567890123456789012345678901234567890" ||
		address == "0xabcdef1234567890123456789012345678901234", nil
}

// TestEVMClientVersionDispatch verifies that a scheme registered under one
// protocol version bucket is not visible under the other, and that the core
// client wraps the mechanism's raw payload differently per version: v1
// passes the mechanism's bytes through unchanged, v2 wraps them with the
// accepted requirements.
func TestEVMClientVersionDispatch(t *testing.T) {
	reqBytes, err := json.Marshal(x402.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: "eip155:8453",
		Asset:   "erc20:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		Amount:  "1000000",
		PayTo:   "0x9876543210987654321098765432109876543210",
	})
	if err != nil {
		t.Fatalf("failed to marshal requirements: %v", err)
	}

	t.Run("V2-only registration rejects V1 requests", func(t *testing.T) {
		ctx := context.Background()
		clientSigner := &mockClientEvmSigner{}
		client := x402.Newx402Client()
		client.RegisterScheme("eip155:8453", evmclient.Wrap(evmclient.NewExactEvmScheme(clientSigner)))

		if _, err := client.CreatePaymentPayload(ctx, x402.ProtocolVersionV1, reqBytes, nil, nil); err == nil {
			t.Error("expected an error requesting a v1 payload with no v1 scheme registered")
		}

		payloadBytes, err := client.CreatePaymentPayload(ctx, x402.ProtocolVersion, reqBytes, nil, nil)
		if err != nil {
			t.Fatalf("v2 CreatePaymentPayload failed: %v", err)
		}
		var payload x402.PaymentPayload
		if err := json.Unmarshal(payloadBytes, &payload); err != nil {
			t.Fatalf("failed to unmarshal v2 payload: %v", err)
		}
		if payload.X402Version != x402.ProtocolVersion {
			t.Errorf("X402Version = %d, want %d", payload.X402Version, x402.ProtocolVersion)
		}
		if payload.Accepted.Scheme != evm.SchemeExact {
			t.Error("expected v2 payload to carry Accepted.Scheme")
		}
	})

	t.Run("Dual-registered client serves both versions", func(t *testing.T) {
		ctx := context.Background()
		clientSigner := &mockClientEvmSigner{}
		client := x402.Newx402Client()
		rawScheme := evmclient.Wrap(evmclient.NewExactEvmScheme(clientSigner))
		client.RegisterScheme("eip155:8453", rawScheme)
		client.RegisterSchemeV1("eip155:8453", rawScheme)

		v1Bytes, err := client.CreatePaymentPayload(ctx, x402.ProtocolVersionV1, reqBytes, nil, nil)
		if err != nil {
			t.Fatalf("v1 CreatePaymentPayload failed: %v", err)
		}
		var v1Payload x402.PaymentPayload
		if err := json.Unmarshal(v1Bytes, &v1Payload); err != nil {
			t.Fatalf("failed to unmarshal v1 payload: %v", err)
		}
		// v1 requests get the mechanism's payload back unwrapped: no
		// Accepted field gets stamped on since only v2 goes through
		// wrapV2Payload.
		if v1Payload.Accepted.Scheme != "" {
			t.Error("expected v1 payload not to carry a wrapped Accepted field")
		}

		v2Bytes, err := client.CreatePaymentPayload(ctx, x402.ProtocolVersion, reqBytes, nil, nil)
		if err != nil {
			t.Fatalf("v2 CreatePaymentPayload failed: %v", err)
		}
		var v2Payload x402.PaymentPayload
		if err := json.Unmarshal(v2Bytes, &v2Payload); err != nil {
			t.Fatalf("failed to unmarshal v2 payload: %v", err)
		}
		if v2Payload.Accepted.Scheme != evm.SchemeExact {
			t.Error("expected v2 payload to carry Accepted.Scheme")
		}
	})
}
