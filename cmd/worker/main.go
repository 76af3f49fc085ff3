package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/impact-escrow/backend/internal/app"
	"github.com/impact-escrow/backend/internal/config"
	"github.com/impact-escrow/backend/internal/events"
	"github.com/impact-escrow/backend/internal/models"
	"github.com/impact-escrow/backend/internal/services"
)

const stuckBatch = 200

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

	sw := &sweeper{
		escrows:    a.Escrows,
		gauge:      a.Metrics.StuckEscrows,
		autoCancel: cfg.AutoCancelStuck,
		log:        log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(cfg.StuckSweepPeriod)
		defer ticker.Stop()
		log.Info("worker started", zap.Duration("sweep_period", cfg.StuckSweepPeriod), zap.Bool("auto_cancel", cfg.AutoCancelStuck))
		for {
			sw.run(gctx)
			select {
			case <-ticker.C:
			case <-gctx.Done():
				return nil
			}
		}
	})

	if a.Subscriber != nil {
		g.Go(func() error {
			return a.Subscriber.Subscribe(gctx, func(stream string, e events.Event) {
				log.Info("event", zap.String("stream", stream), zap.String("type", e.Type), zap.Any("payload", e.Payload))
			}, events.StreamDonor, events.StreamDistribution)
		})
	}

	status := fiber.New(fiber.Config{DisableStartupMessage: true})
	status.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	status.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	g.Go(func() error {
		return status.Listen(fmt.Sprintf(":%s", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down worker")
		return status.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("worker error", zap.Error(err))
	}
}

type stuckEscrows interface {
	ListStuck(ctx context.Context, limit int) ([]models.EscrowView, error)
	CancelExpired(ctx context.Context, id uuid.UUID, actor services.Actor) (*services.EscrowOutcome, error)
}

// sweeper reports locked escrows past deadline plus grace and, when enabled,
// cancels them back to the owner.
type sweeper struct {
	escrows    stuckEscrows
	gauge      prometheus.Gauge
	autoCancel bool
	log        *zap.Logger
}

func (s *sweeper) run(ctx context.Context) {
	stuck, err := s.escrows.ListStuck(ctx, stuckBatch)
	if err != nil {
		s.log.Error("failed to list stuck escrows", zap.Error(err))
		return
	}
	s.gauge.Set(float64(len(stuck)))
	if len(stuck) == 0 {
		return
	}
	s.log.Warn("stuck escrows found", zap.Int("count", len(stuck)))

	if !s.autoCancel {
		return
	}
	actor := services.Actor{Type: models.ActorTypeSystem, ID: "worker"}
	for _, e := range stuck {
		out, err := s.escrows.CancelExpired(ctx, e.ID, actor)
		if err != nil {
			s.log.Error("failed to cancel stuck escrow", zap.String("escrow_id", e.ID.String()), zap.Error(err))
			continue
		}
		s.log.Info("stuck escrow cancelled",
			zap.String("escrow_id", e.ID.String()),
			zap.String("tx_id", out.ConfirmationID),
			zap.Bool("already_terminal", out.AlreadyTerminal),
		)
	}
}
