package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	x402 "x402-go"
	evm "x402-go/mechanisms/evm/exact/facilitator"
	svm "x402-go/mechanisms/svm/facilitator"
	evmsigners "x402-go/signers/evm"
	svmsigners "x402-go/signers/svm"

	ginfw "github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// Standalone facilitator used by the e2e harness: verifies and settles
// against a local Anvil chain (and, if an SVM key is supplied, a local
// Solana validator), with the discovered resources bazaar catalog mounted
// alongside.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found. Using environment variables.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4022"
	}

	evmPrivateKey := os.Getenv("EVM_PRIVATE_KEY")
	if evmPrivateKey == "" {
		fmt.Println("❌ EVM_PRIVATE_KEY environment variable is required")
		os.Exit(1)
	}
	evmRPC := os.Getenv("EVM_RPC_URL")
	if evmRPC == "" {
		fmt.Println("❌ EVM_RPC_URL environment variable is required")
		os.Exit(1)
	}
	evmNetwork := x402.Network("eip155:84532")

	evmSigner, err := evmsigners.NewFacilitatorSignerFromPrivateKeys([]string{evmPrivateKey}, evmRPC)
	if err != nil {
		fmt.Printf("❌ Failed to create EVM signer: %v\n", err)
		os.Exit(1)
	}

	facilitator := x402.Newx402Facilitator()
	facilitator.RegisterScheme(evmNetwork, evm.Wrap(evm.NewExactEvmScheme(evmSigner, &evm.ExactEvmSchemeConfig{})))

	if svmPrivateKey := os.Getenv("SVM_PRIVATE_KEY"); svmPrivateKey != "" {
		svmRPC := os.Getenv("SVM_RPC_URL")
		if svmRPC == "" {
			svmRPC = "http://127.0.0.1:8899"
		}
		svmNetwork := x402.Network("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
		svmSigner, err := svmsigners.NewFacilitatorSignerFromPrivateKey(svmPrivateKey, svmRPC)
		if err != nil {
			fmt.Printf("⚠️  Failed to create SVM signer, skipping Solana support: %v\n", err)
		} else {
			facilitator.RegisterScheme(svmNetwork, svm.Wrap(svm.NewExactSvmScheme(svmSigner)))
		}
	}

	catalog := NewBazaarCatalog()
	facilitator.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		fmt.Printf("✅ Payment verified: payer=%s network=%s\n", ctx.Result.Payer, ctx.PaymentRequirements.Network)
		return nil
	})
	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		fmt.Printf("🎉 Payment settled: tx=%s\n", ctx.Result.Transaction)
		return nil
	})

	ginfw.SetMode(ginfw.ReleaseMode)
	r := ginfw.New()
	r.Use(ginfw.Recovery())

	r.GET("/supported", func(c *ginfw.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		supported, err := facilitator.GetSupported(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ginfw.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, supported)
	})

	r.POST("/verify", func(c *ginfw.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		var reqBody struct {
			PaymentPayload      json.RawMessage `json:"paymentPayload"`
			PaymentRequirements json.RawMessage `json:"paymentRequirements"`
		}
		if err := c.BindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, ginfw.H{"error": "Invalid request body"})
			return
		}
		result, err := facilitator.Verify(ctx, reqBody.PaymentPayload, reqBody.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ginfw.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST("/settle", func(c *ginfw.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()
		var reqBody struct {
			PaymentPayload      json.RawMessage `json:"paymentPayload"`
			PaymentRequirements json.RawMessage `json:"paymentRequirements"`
		}
		if err := c.BindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, ginfw.H{"error": "Invalid request body"})
			return
		}
		result, err := facilitator.Settle(ctx, reqBody.PaymentPayload, reqBody.PaymentRequirements)
		if err != nil {
			c.JSON(http.StatusInternalServerError, ginfw.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.GET("/discovery/resources", func(c *ginfw.Context) {
		resources, total := catalog.GetResources(100, 0)
		c.JSON(http.StatusOK, ginfw.H{"items": resources, "total": total})
	})

	fmt.Printf("🚀 e2e facilitator listening on http://localhost:%s\n", port)
	if err := http.ListenAndServe(":"+port, r); err != nil && err != http.ErrServerClosed {
		fmt.Printf("Error starting server: %v\n", err)
		os.Exit(1)
	}
}
