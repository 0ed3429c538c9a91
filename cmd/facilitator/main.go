// Command facilitator runs a standalone x402 facilitator: it verifies and
// settles payments over HTTP for any resource server that points at it,
// across the exact and upto schemes, with the upto sweeper running
// alongside.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginfw "github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "x402-go"
	"x402-go/config"
	ginmw "x402-go/http/gin"
	"x402-go/internal/logging"
	exactfacilitator "x402-go/mechanisms/evm/exact/facilitator"
	uptofacilitator "x402-go/mechanisms/evm/upto/facilitator"
	svm "x402-go/mechanisms/svm"
	svmfacilitator "x402-go/mechanisms/svm/facilitator"
	evmsigner "x402-go/signers/evm"
	svmsigner "x402-go/signers/svm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	logger := logging.NewZapLogger(zapLogger)

	rpcURL, _ := cfg.RPCURL(cfg.EVMNetworks[0])
	signer, err := evmsigner.NewFacilitatorSignerFromPrivateKeys(cfg.EVMPrivateKeys, rpcURL)
	if err != nil {
		logger.Error("failed to construct EVM signer", "error", err)
		os.Exit(1)
	}

	facilitator := x402.Newx402Facilitator(x402.WithLogger(logger))

	exactScheme := exactfacilitator.NewExactEvmScheme(signer, &exactfacilitator.ExactEvmSchemeConfig{
		DeployERC4337WithEIP6492: true,
	})
	uptoScheme := uptofacilitator.NewUptoEvmScheme(signer)

	for _, network := range cfg.EVMNetworks {
		facilitator.RegisterScheme(x402.Network(network), exactfacilitator.Wrap(exactScheme))
		facilitator.RegisterScheme(x402.Network(network), uptoScheme)
	}

	if cfg.SVMPrivateKey != "" {
		for _, network := range cfg.SVMNetworks {
			netCfg, err := svm.GetNetworkConfig(network)
			if err != nil {
				logger.Error("unknown solana network, skipping", "network", network, "error", err)
				continue
			}
			svmSigner, err := svmsigner.NewFacilitatorSignerFromPrivateKey(cfg.SVMPrivateKey, netCfg.RPCEndpoint)
			if err != nil {
				logger.Error("failed to construct SVM signer", "network", network, "error", err)
				continue
			}
			svmScheme := svmfacilitator.NewExactSvmScheme(svmSigner)
			facilitator.RegisterScheme(x402.Network(network), svmfacilitator.Wrap(svmScheme))
		}
	}

	facilitator.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		logger.Info("payment verified", "payer", ctx.Result.Payer, "network", ctx.PaymentRequirements.Network)
		return nil
	})
	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		logger.Info("payment settled", "transaction", ctx.Result.Transaction, "network", ctx.Result.Network)
		return nil
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := x402.NewSweeper(facilitator, x402.DefaultSweeperConfig(), logger)
	go func() {
		if err := sweeper.Run(runCtx); err != nil && err != context.Canceled {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	ginfw.SetMode(ginfw.ReleaseMode)
	r := ginfw.New()
	r.Use(ginfw.Recovery())
	ginmw.RegisterFacilitatorRoutes(r, facilitator)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("facilitator listening", "port", cfg.Port, "evmSigners", signer.GetAddresses())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
