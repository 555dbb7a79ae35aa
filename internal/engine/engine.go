// Package engine wires the condition registry, shared evaluator, event bus,
// notifier, and bot executors into one process and owns their lifecycles.
package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/tradebotlab/crypto-bot-engine/internal/bot"
	"github.com/tradebotlab/crypto-bot-engine/internal/bus"
	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
	"github.com/tradebotlab/crypto-bot-engine/internal/config"
	"github.com/tradebotlab/crypto-bot-engine/internal/evaluator"
	"github.com/tradebotlab/crypto-bot-engine/internal/exchange"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
	"github.com/tradebotlab/crypto-bot-engine/internal/market"
	"github.com/tradebotlab/crypto-bot-engine/internal/monitoring"
	"github.com/tradebotlab/crypto-bot-engine/internal/notifier"
	"github.com/tradebotlab/crypto-bot-engine/internal/paper"
	"github.com/tradebotlab/crypto-bot-engine/internal/reporting"
	"github.com/tradebotlab/crypto-bot-engine/internal/store"
	"github.com/tradebotlab/crypto-bot-engine/pkg/types"
)

// Engine is the assembled process.
type Engine struct {
	cfg *config.Config
	log *logger.Logger

	store     *store.FileStore
	registry  *condition.Registry
	bus       *bus.Bus
	evaluator *evaluator.Evaluator
	notifier  *notifier.Notifier
	manager   *bot.Manager
	stream    *market.TickerStream
	paperSim  *paper.Simulator // nil in live mode
	reporter  *reporting.ConsoleReporter
	exporter  *reporting.ExcelExporter
	health    *monitoring.HealthChecker

	httpServer *http.Server
	cancel     context.CancelFunc
	evalDone   chan struct{}
}

// New wires every component from configuration.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	st, err := store.OpenFileStore(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}

	registry := condition.NewRegistry(st)
	eventBus := bus.New(cfg.Bus.MailboxSize, monitoring.RecordDroppedEvent)
	dataClient := market.NewBinanceClient(cfg.Exchange.Testnet, cfg.Exchange.DataTimeout)

	var sink exchange.OrderExecutor
	var paperSim *paper.Simulator
	if cfg.Exchange.Mode == "live" {
		sink = exchange.NewBinanceClient(cfg.Exchange.APIKey, cfg.Exchange.APISecret,
			cfg.Exchange.Testnet, cfg.Exchange.OrderTimeout)
	} else {
		paperSim = paper.NewSimulator(cfg.Paper.InitialBalance, cfg.Paper.SlippageBps, cfg.Paper.FeeBps, log)
		sink = paperSim
	}

	manager := bot.NewManager(st, registry, sink, cfg.Executor, log)
	eval := evaluator.New(registry, dataClient, eventBus, cfg.Evaluator, log)
	notif := notifier.New(registry, eventBus, manager, log)

	e := &Engine{
		cfg:       cfg,
		log:       log,
		store:     st,
		registry:  registry,
		bus:       eventBus,
		evaluator: eval,
		notifier:  notif,
		manager:   manager,
		paperSim:  paperSim,
		reporter:  reporting.NewConsoleReporter(st),
		exporter:  reporting.NewExcelExporter(st),
		health:    monitoring.NewHealthChecker(),
	}
	e.stream = market.NewTickerStream(cfg.Exchange.Testnet, dataClient, e.handleTick, log)

	if paperSim != nil {
		paperSim.SetFillHandler(e.handlePaperFill)
	}
	return e, nil
}

// handleTick feeds live prices to the paper simulator and the executors.
func (e *Engine) handleTick(tick types.Ticker) {
	if e.paperSim != nil {
		if err := e.paperSim.UpdatePrice(tick.Symbol, tick.Price); err != nil {
			e.log.LogError("Engine", "paper price update: %v", err)
			e.health.AddError(err.Error())
		}
	}
	e.manager.HandleTick(tick)
}

// handlePaperFill persists limit orders the simulator filled asynchronously.
func (e *Engine) handlePaperFill(order *exchange.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.InsertOrder(ctx, order); err != nil {
		e.log.LogError("Engine", "persist paper fill %s: %v", order.ID, err)
	}
	monitoring.RecordOrder(order.Symbol, string(order.Side))
}

// Start boots the metrics endpoint, the ticker stream, the notifier, and the
// evaluator loop.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/healthz", e.health)
	e.httpServer = &http.Server{Addr: e.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.LogError("Engine", "metrics server: %v", err)
		}
	}()

	if err := e.notifier.Start(ctx); err != nil {
		return err
	}

	e.stream.Start(ctx)
	e.health.SetConnected(true)

	e.evalDone = make(chan struct{})
	go func() {
		defer close(e.evalDone)
		if err := e.evaluator.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.LogError("Engine", "evaluator stopped: %v", err)
		}
	}()

	go e.housekeeping(ctx)

	e.reporter.PrintStartup(e.cfg.Exchange.Testnet,
		e.cfg.Evaluator.CyclePeriod.String(), e.cfg.Metrics.ListenAddr)
	e.log.Status("engine started (%s mode)", e.cfg.Exchange.Mode)
	return nil
}

// housekeeping reconciles notifier subscriptions and the ticker symbol set
// on the cycle cadence, so subscription and bot changes land within one
// cycle.
func (e *Engine) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Evaluator.CyclePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.notifier.Refresh(ctx); err != nil {
				e.log.LogWarning("Engine", "notifier refresh: %v", err)
			}
			e.stream.SetSymbols(e.manager.Symbols())
			e.health.MarkCycle()
		}
	}
}

// Stop shuts the engine down in dependency order: executors first so they
// can cancel working orders, then the stream, bus, and HTTP server.
func (e *Engine) Stop(ctx context.Context) {
	e.log.Status("engine stopping")

	e.manager.Shutdown(ctx)
	if e.cancel != nil {
		e.cancel()
	}
	if e.evalDone != nil {
		<-e.evalDone
	}
	e.stream.Stop()
	e.notifier.Close()
	e.bus.Close()

	if e.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.httpServer.Shutdown(shutdownCtx)
	}
	e.log.Status("engine stopped")
}

// Registry exposes the condition registry for bot-management callers.
func (e *Engine) Registry() *condition.Registry { return e.registry }

// Bots exposes the lifecycle manager.
func (e *Engine) Bots() *bot.Manager { return e.manager }

// PrintStatus renders the bot table to stdout.
func (e *Engine) PrintStatus(ctx context.Context) error {
	return e.reporter.PrintBots(ctx)
}

// ExportOrders writes a bot's order history workbook.
func (e *Engine) ExportOrders(ctx context.Context, botID, path string) error {
	return e.exporter.WriteOrdersXLSX(ctx, botID, path)
}
