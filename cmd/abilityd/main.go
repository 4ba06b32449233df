package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/abilitynet/abilityd/internal/ability"
	"github.com/abilitynet/abilityd/internal/config"
	coresys "github.com/abilitynet/abilityd/internal/core/system"
	"github.com/abilitynet/abilityd/internal/data"
	gonet "github.com/abilitynet/abilityd/internal/net"
	"github.com/abilitynet/abilityd/internal/persist"
	"github.com/abilitynet/abilityd/internal/scripting"
	"github.com/abilitynet/abilityd/internal/system"
	"github.com/abilitynet/abilityd/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string, peerID uint32) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m             abilityd  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(peer %d)\033[0m\n\n", serverName, peerID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/abilityd.toml"
	if p := os.Getenv("ABILITYD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.PeerID)

	// 3. Load the ability catalog and scripts
	printSection("catalog")
	catalog, err := data.LoadAbilityTable(cfg.Abilities.CatalogPath)
	if err != nil {
		return fmt.Errorf("ability catalog: %w", err)
	}
	printStat("abilities", catalog.Count())
	printStat("builds", len(catalog.Builds()))

	lua, err := scripting.NewEngine(cfg.Abilities.ScriptsDir, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer lua.Close()
	printOK("lua scripts loaded")

	// 4. Register abilities. A failed registration only disables that ability.
	reg := ability.NewRegistry(log)
	configs := catalog.Configs(lua)
	abilities := make([]*ability.Ability, 0, len(configs))
	for _, c := range configs {
		abilities = append(abilities, ability.New(c))
	}
	if err := reg.RegisterAll(abilities); err != nil {
		log.Warn("some abilities were disabled at registration", zap.Error(err))
	}
	printStat("registered", reg.Count())
	fmt.Println()

	// 5. Durable storage (optional)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var store ability.Store
	if cfg.Database.DSN != "" {
		printSection("database")
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		version, err := persist.SchemaVersion(ctx, db.Pool)
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		printStat("schema version", int(version))
		store = persist.NewAbilityRepo(db)
		fmt.Println()
	} else {
		log.Warn("no database configured, ability state will not be saved")
	}

	// 6. World and local peer
	hub := gonet.NewHub(log,
		gonet.WithDropRate(cfg.Network.UnreliableDropRate),
		gonet.WithRand(rand.New(rand.NewSource(cfg.Server.StartTime))),
	)
	ws := world.NewState(world.Options{
		Registry:   reg,
		Catalog:    catalog,
		Hub:        hub,
		RegenRate:  cfg.Abilities.ChargeRegenRate,
		TimeScale:  cfg.Abilities.TimeScale,
		VerboseLag: cfg.Abilities.VerboseLag,
		Log:        log,
	})
	host := ws.AddPeer()

	printSection("players")
	lang := language.Make(cfg.Abilities.Locale)
	for _, pc := range cfg.Players {
		a, err := ws.Spawn(host, pc.Name, pc.Build, pc.Stats)
		if err != nil {
			return fmt.Errorf("player %s: %w", pc.Name, err)
		}
		printOK(fmt.Sprintf("%s (%s)", pc.Name, pc.Build))
		logSlots(log, a, lang)
	}
	fmt.Println()

	// 7. Create network server
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		cfg.Network.InQueueSize,
		cfg.Network.OutQueueSize,
		cfg.Network.MessagesPerSecond,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	// 8. Create systems and register with runner
	autosaveTicks := cfg.Abilities.AutosaveInterval
	persistSys := system.NewPersistenceSystem(ws, store, log, autosaveTicks)
	persistSys.LoadAll(ctx)

	runner := coresys.NewRunner()
	inputSys := system.NewInputSystem(ws, netServer, cfg.Network.MaxMessagesPerTick, log)
	runner.Register(inputSys)
	runner.Register(system.NewEventSystem(ws, log))
	runner.Register(system.NewAbilitySystem(ws))
	runner.Register(system.NewNetworkSystem(ws, log))
	runner.Register(persistSys)
	runner.Register(system.NewCleanupSystem(ws))

	// 9. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Network.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", netServer.Addr().String()))
	printReady(fmt.Sprintf("game loop running (tick: %s)", cfg.Network.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(cfg.Network.TickRate)
		case sig := <-shutdownCh:
			remotes := inputSys.Remotes()
			log.Info("shutdown signal received",
				zap.String("signal", sig.String()),
				zap.Int("remote_peers", len(remotes)),
			)
			persistSys.SaveAll()
			netServer.Shutdown()
			for _, sess := range remotes {
				sess.Close()
			}
			log.Info("server stopped")
			return nil
		}
	}
}

// logSlots logs the formatted UI parameters of each slot at debug level.
func logSlots(log *zap.Logger, a *world.Actor, lang language.Tag) {
	if !log.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	for slot := 0; slot < ability.SlotCount; slot++ {
		ab := a.Abilities.Slot(slot)
		if ab == nil {
			continue
		}
		params := a.Abilities.Parameters(ab, lang)
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := []zap.Field{zap.String("player", a.Name), zap.Int("slot", slot), zap.String("ability", ab.Key())}
		for _, k := range keys {
			fields = append(fields, zap.String(k, params[k]))
		}
		log.Debug("slot bound", fields...)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
