package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	x402 "x402-go"
	x402http "x402-go/http"
	evm "x402-go/mechanisms/evm/exact/client"
	svm "x402-go/mechanisms/svm/client"
	evmsigners "x402-go/signers/evm"
	svmsigners "x402-go/signers/svm"

	solana "github.com/gagliardetto/solana-go"
)

// Result is the JSON line this process prints on exit, for the e2e harness
// to parse off stdout.
type Result struct {
	Success         bool        `json:"success"`
	Data            interface{} `json:"data,omitempty"`
	StatusCode      int         `json:"status_code,omitempty"`
	PaymentResponse interface{} `json:"payment_response,omitempty"`
	Error           string      `json:"error,omitempty"`
}

func main() {
	serverURL := os.Getenv("RESOURCE_SERVER_URL")
	if serverURL == "" {
		log.Fatal("RESOURCE_SERVER_URL is required")
	}

	endpointPath := os.Getenv("ENDPOINT_PATH")
	if endpointPath == "" {
		endpointPath = "/protected"
	}

	evmPrivateKey := os.Getenv("EVM_PRIVATE_KEY")
	if evmPrivateKey == "" {
		log.Fatal("❌ EVM_PRIVATE_KEY environment variable is required")
	}

	evmSigner, err := evmsigners.NewClientSignerFromPrivateKey(evmPrivateKey)
	if err != nil {
		outputError(fmt.Sprintf("Failed to create EVM signer: %v", err))
		return
	}

	client := x402.Newx402Client()
	client.RegisterScheme("eip155:*", evm.Wrap(evm.NewExactEvmScheme(evmSigner)))

	if svmPrivateKey := os.Getenv("SVM_PRIVATE_KEY"); svmPrivateKey != "" {
		svmSigner, err := svmsigners.NewClientSignerFromPrivateKey(svmPrivateKey)
		if err != nil {
			outputError(fmt.Sprintf("Failed to create SVM signer: %v", err))
			return
		}
		client.RegisterScheme("solana:*", svm.Wrap(svm.NewExactSvmScheme(svmSigner, solana.PublicKey{})))
	}

	httpClient := x402http.Newx402HTTPClient(client)
	x402http.WrapHTTPClientWithPayment(http.DefaultClient, httpClient)

	ctx := context.Background()
	resp, err := httpClient.GetWithPayment(ctx, serverURL+endpointPath)
	if err != nil {
		outputError(fmt.Sprintf("Request failed: %v", err))
		return
	}
	defer resp.Body.Close()

	var responseData interface{}
	if err := json.NewDecoder(resp.Body).Decode(&responseData); err != nil {
		outputError(fmt.Sprintf("Failed to decode response: %v", err))
		return
	}

	settleResp, err := extractPaymentResponse(resp.Header)
	if err != nil {
		outputError(fmt.Sprintf("Failed to parse payment response: %v", err))
		return
	}

	success := resp.StatusCode != http.StatusPaymentRequired
	if settleResp != nil {
		success = settleResp.Success
	}

	var paymentResponse interface{}
	if settleResp != nil {
		paymentResponse = settleResp
	}

	outputResult(Result{
		Success:         success,
		Data:            responseData,
		StatusCode:      resp.StatusCode,
		PaymentResponse: paymentResponse,
	})
}

func extractPaymentResponse(headers http.Header) (*x402.SettleResponse, error) {
	paymentHeader := headers.Get(x402http.PaymentResponseHeader)
	if paymentHeader == "" {
		paymentHeader = headers.Get("X-PAYMENT-RESPONSE")
	}
	if paymentHeader == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(paymentHeader)
	if err != nil {
		return nil, err
	}
	var settleResp x402.SettleResponse
	if err := json.Unmarshal(decoded, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func outputResult(result Result) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("Failed to marshal result: %v", err)
	}
	fmt.Println(string(data))
	os.Exit(0)
}

func outputError(errorMsg string) {
	data, _ := json.Marshal(Result{Success: false, Error: errorMsg})
	fmt.Println(string(data))
	os.Exit(1)
}
