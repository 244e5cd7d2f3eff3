// Command simulate drives purchases against a real database and an
// in-process payment rail, then prints how each order settled.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"topup-checkout/internal/config"
	"topup-checkout/internal/database"
	"topup-checkout/internal/domain"
	"topup-checkout/internal/guard"
	"topup-checkout/internal/infrastructure/khqr"
	"topup-checkout/internal/infrastructure/payment"
	"topup-checkout/internal/logger"
	"topup-checkout/internal/repo"
	"topup-checkout/internal/service"
	"topup-checkout/internal/worker"
)

var items = []struct{ game, itemID string }{
	{"MLBB", "86_DIAMOND"},
	{"MLBB", "344_DIAMOND"},
	{"FF", "100_DIAMOND"},
	{"FF", "520_DIAMOND"},
}

func main() {
	orders := flag.Int("orders", 20, "number of purchases")
	payRate := flag.Int("pay-rate", 70, "percent of shoppers who pay")
	failRate := flag.Int("fail-rate", 20, "percent of rail checks that fail")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Setup(cfg.App.LogLevel, "console", "topup-simulate")

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.PostgresURL())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// short budgets so the run finishes quickly
	const (
		interval = 200 * time.Millisecond
		timeout  = 3 * time.Second
	)

	rail := payment.NewSimulatedGateway(*failRate, 20*time.Millisecond)
	activeGuard := guard.NewMemory()
	orderRepo := repo.NewOrderRepo(db, cfg.App.Timezone)
	poller := worker.NewPoller(orderRepo, rail, activeGuard, interval, cfg.App.Timezone)
	registry := worker.NewRegistry(poller, activeGuard)
	issuer := khqr.NewIssuer(khqr.Merchant{
		BankAccount:   cfg.Merchant.BankAccount,
		Name:          cfg.Merchant.Name,
		City:          cfg.Merchant.City,
		StoreLabel:    cfg.Merchant.StoreLabel,
		PhoneNumber:   cfg.Merchant.PhoneNumber,
		TerminalLabel: cfg.Merchant.TerminalLabel,
	})
	orderService := service.NewOrderService(orderRepo, repo.NewCatalogRepo(db), repo.NewUserRepo(db),
		issuer, activeGuard, registry, service.Options{PollTimeout: timeout, Location: cfg.App.Timezone})

	fmt.Printf("--- STARTING SIMULATION (%d ORDERS) ---\n", *orders)
	var ids []string
	for i := 0; i < *orders; i++ {
		userID := int64(1000 + i)
		if err := orderService.ProvisionUser(ctx, userID, fmt.Sprintf("sim_%d", i)); err != nil {
			log.Error().Err(err).Msg("provision failed")
			continue
		}

		item := items[rand.IntN(len(items))]
		res, err := orderService.Purchase(ctx, service.PurchaseRequest{
			UserID:   userID,
			Game:     item.game,
			ItemID:   item.itemID,
			ServerID: "100200",
			ZoneID:   "3001",
		})
		if err != nil {
			fmt.Printf("[%d] purchase FAILED: %v\n", i+1, err)
			continue
		}
		ids = append(ids, res.Order.OrderID)
		fmt.Printf("[%d] order %s %s/%s amount=%s\n", i+1, res.Order.OrderID, item.game, item.itemID, res.Order.Amount.StringFixed(2))

		if rand.IntN(100) < *payRate {
			fingerprint := res.QR.Fingerprint
			delay := time.Duration(rand.IntN(int(timeout/time.Millisecond))) * time.Millisecond
			time.AfterFunc(delay, func() { rail.MarkPaid(fingerprint) })
		}
	}

	// wait for every poller to settle its order
	deadline := time.Now().Add(timeout + 2*time.Second)
	for registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(interval)
	}

	counts := map[domain.OrderStatus]int{}
	fmt.Println("---------------------------------------------------")
	for _, id := range ids {
		order, err := orderRepo.FindById(ctx, id)
		if err != nil {
			fmt.Printf("%s -> lookup failed: %v\n", id, err)
			continue
		}
		counts[order.Status]++
		fmt.Printf("%s -> DB Status: %s\n", id, order.Status)
	}
	fmt.Printf("PAID=%d EXPIRED=%d UNPAID=%d\n", counts[domain.OrderPaid], counts[domain.OrderExpired], counts[domain.OrderUnpaid])

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = registry.Shutdown(shutdownCtx)
}
