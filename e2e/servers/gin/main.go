package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	x402 "x402-go"
	x402http "x402-go/http"
	ginmw "x402-go/http/gin"
	evm "x402-go/mechanisms/evm/exact/server"

	ginfw "github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

var shutdownRequested bool

// Gin e2e test server with x402 payment middleware: one EVM-protected
// route, a health check, and a shutdown endpoint for the harness.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found. Using environment variables.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "4021"
	}

	evmPayeeAddress := os.Getenv("EVM_PAYEE_ADDRESS")
	if evmPayeeAddress == "" {
		fmt.Println("❌ EVM_PAYEE_ADDRESS environment variable is required")
		os.Exit(1)
	}

	facilitatorURL := os.Getenv("FACILITATOR_URL")
	if facilitatorURL == "" {
		fmt.Println("❌ FACILITATOR_URL environment variable is required")
		os.Exit(1)
	}

	evmNetwork := x402.Network("eip155:84532")

	fmt.Printf("EVM Payee address: %s\n", evmPayeeAddress)
	fmt.Printf("Using remote facilitator at: %s\n", facilitatorURL)

	facilitatorClient := x402http.NewHTTPFacilitatorClient(&x402http.FacilitatorConfig{
		URL: facilitatorURL,
	})

	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(facilitatorClient),
		x402.WithSchemeServer(evmNetwork, evm.NewExactEvmScheme()),
	)

	routes := x402http.RoutesConfig{
		"GET /protected": {
			Accepts: []x402.ResourceConfig{
				{
					Scheme:  "exact",
					PayTo:   evmPayeeAddress,
					Price:   "$0.001",
					Network: evmNetwork,
				},
			},
			Description: "Access to a protected resource",
			MimeType:    "application/json",
		},
	}

	ginfw.SetMode(ginfw.ReleaseMode)
	r := ginfw.New()
	r.Use(ginfw.Recovery())
	r.Use(ginmw.PaymentMiddleware(routes, server))

	r.GET("/protected", func(c *ginfw.Context) {
		if shutdownRequested {
			c.JSON(http.StatusServiceUnavailable, ginfw.H{"error": "Server shutting down"})
			return
		}
		c.JSON(http.StatusOK, ginfw.H{
			"message":   "Protected endpoint accessed successfully",
			"timestamp": time.Now().Format(time.RFC3339),
			"network":   string(evmNetwork),
		})
	})

	r.GET("/health", func(c *ginfw.Context) {
		c.JSON(http.StatusOK, ginfw.H{
			"status":      "ok",
			"evm_network": string(evmNetwork),
			"evm_payee":   evmPayeeAddress,
		})
	})

	r.POST("/close", func(c *ginfw.Context) {
		shutdownRequested = true
		c.JSON(http.StatusOK, ginfw.H{"message": "Server shutting down gracefully"})
		go func() {
			time.Sleep(100 * time.Millisecond)
			os.Exit(0)
		}()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("Received shutdown signal, exiting...")
		os.Exit(0)
	}()

	fmt.Printf("🚀 Gin e2e server listening on http://localhost:%s\n", port)
	if err := http.ListenAndServe(":"+port, r); err != nil && err != http.ErrServerClosed {
		fmt.Printf("Error starting server: %v\n", err)
		os.Exit(1)
	}
}
