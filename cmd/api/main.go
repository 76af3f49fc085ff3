package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/impact-escrow/backend/internal/app"
	"github.com/impact-escrow/backend/internal/apperr"
	"github.com/impact-escrow/backend/internal/config"
	apphttp "github.com/impact-escrow/backend/internal/http"
	"github.com/impact-escrow/backend/internal/http/dto"
	"github.com/impact-escrow/backend/internal/http/handlers"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, prometheus.DefaultRegisterer, log)
	if err != nil {
		log.Fatal("failed to build app", zap.Error(err))
	}
	defer a.Close()

	// Fiber app
	server := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(dto.ErrorResponse{Error: fe.Message})
			}
			kind := apperr.KindOf(err)
			if kind == apperr.Internal {
				log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
				return c.Status(kind.HTTPStatus()).JSON(dto.ErrorResponse{Error: "internal error"})
			}
			return c.Status(kind.HTTPStatus()).JSON(dto.ErrorResponse{Error: err.Error(), Kind: kind.String()})
		},
	})

	apphttp.SetupRouter(server, cfg, log, a.Redis, prometheus.DefaultGatherer, apphttp.Handlers{
		Escrow:       handlers.NewEscrowHandler(a.Escrows, a.Gate, a.OwnerSeed, log),
		Distribution: handlers.NewDistributionHandler(a.Distributions, log),
		Donation:     handlers.NewDonationHandler(a.Donations, log),
		Recipient:    handlers.NewRecipientHandler(a.Recipients, log),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting API server", zap.String("addr", addr))
		return server.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		return server.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
