package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "x402-go/mechanisms/evm"
)

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner over one or more
// ECDSA keys. GetAddresses advertises every key's address, but all
// transactions are signed and sent from the first key (nextKey is never
// advanced).
type FacilitatorSigner struct {
	keys      []*ecdsa.PrivateKey
	addresses []common.Address
	ethClient *ethclient.Client
	nextKey   int
}

// NewFacilitatorSignerFromPrivateKeys builds a signer from one or more
// hex-encoded private keys. The first key is used for every transaction;
// the others are only advertised through GetAddresses.
func NewFacilitatorSignerFromPrivateKeys(privateKeyHexes []string, rpcURL string) (*FacilitatorSigner, error) {
	if len(privateKeyHexes) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}
	s := &FacilitatorSigner{}
	for _, hexKey := range privateKeyHexes {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		s.keys = append(s.keys, key)
		s.addresses = append(s.addresses, crypto.PubkeyToAddress(key.PublicKey))
	}
	if rpcURL != "" {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		s.ethClient = client
	}
	return s, nil
}

func (s *FacilitatorSigner) GetAddresses() []string {
	addrs := make([]string, len(s.addresses))
	for i, a := range s.addresses {
		addrs[i] = a.Hex()
	}
	return addrs
}

func (s *FacilitatorSigner) activeKey() (*ecdsa.PrivateKey, common.Address) {
	return s.keys[s.nextKey%len(s.keys)], s.addresses[s.nextKey%len(s.addresses)]
}

func (s *FacilitatorSigner) ReadContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (interface{}, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}
	to := common.HexToAddress(address)
	resultBytes, err := s.ethClient.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(unpacked) == 0 {
		return nil, nil
	}
	if len(unpacked) == 1 {
		return unpacked[0], nil
	}
	return unpacked, nil
}

// VerifyTypedData checks an EIP-712 signature by recomputing the digest and
// recovering the signer's address from it. This only covers the EOA case.
// The upto facilitator calls it; mechanisms/evm's VerifyUniversalSignature
// does not, and recovers EOA signatures itself through VerifyEOASignature
// (see verify_eoa.go).
func (s *FacilitatorSigner) VerifyTypedData(
	ctx context.Context,
	address string,
	domain x402evm.TypedDataDomain,
	dataTypes map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (bool, error) {
	digest, err := x402evm.HashTypedData(domain, dataTypes, primaryType, message)
	if err != nil {
		return false, err
	}
	return verifyDigestAgainstAddress(digest, signature, address)
}

func verifyDigestAgainstAddress(digest, signature []byte, address string) (bool, error) {
	if len(signature) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return strings.EqualFold(recovered.Hex(), address), nil
}

func (s *FacilitatorSigner) WriteContract(ctx context.Context, address string, abiJSON []byte, functionName string, args ...interface{}) (string, error) {
	if s.ethClient == nil {
		return "", fmt.Errorf("RPC client not configured")
	}
	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}
	return s.sendRaw(ctx, address, data)
}

func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	if s.ethClient == nil {
		return "", fmt.Errorf("RPC client not configured")
	}
	return s.sendRaw(ctx, to, data)
}

func (s *FacilitatorSigner) sendRaw(ctx context.Context, to string, data []byte) (string, error) {
	key, addr := s.activeKey()

	chainID, err := s.ethClient.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}
	nonce, err := s.ethClient.PendingNonceAt(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	toAddr := common.HexToAddress(to)
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{From: addr, To: &toAddr, Data: data})
	if err != nil {
		gasLimit = 300000
	} else {
		gasLimit = uint64(float64(gasLimit) * 1.2)
	}

	tx := types.NewTransaction(nonce, toAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
			if err != nil {
				if err == ethereum.NotFound {
					continue
				}
				return nil, err
			}
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}
	}
}

func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	if tokenAddress == "" {
		return s.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
	}
	result, err := s.ReadContract(ctx, tokenAddress, balanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

var balanceOfABI = []byte(`[{
	"constant": true,
	"inputs": [{"name": "account", "type": "address"}],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`)

func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	return s.ethClient.ChainID(ctx)
}

func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	if s.ethClient == nil {
		return nil, fmt.Errorf("RPC client not configured")
	}
	return s.ethClient.CodeAt(ctx, common.HexToAddress(address), nil)
}
