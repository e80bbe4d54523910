package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalexfi/lending-keeper-go/addressbook"
	"github.com/scalexfi/lending-keeper-go/cmd/keeper/config"
	"github.com/scalexfi/lending-keeper-go/keeper"
	"github.com/scalexfi/lending-keeper-go/protocols/lendingmanager"
	"github.com/scalexfi/lending-keeper-go/protocols/router"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	credentialEnvVar = "PRIVATE_KEY"
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

func main() {
	// --- 1. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile("keeper.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	rootLogHandler := slog.NewJSONHandler(logFile, nil)
	rootLogger := slog.New(rootLogHandler)

	closeApp := func() {
		fmt.Println("\n" + Red + "Fatal error occurred. Check keeper.log for details." + Reset)
		os.Exit(2)
	}

	// --- 2. CONFIG, CREDENTIAL & CONTEXT ---
	cfg, err := loadConfig()
	if err != nil {
		rootLogger.Error("Failed to load configuration", "error", err)
		closeApp()
	}

	// The credential is checked before anything touches the network;
	// a missing key must never surface as a failing transaction.
	privateKey := os.Getenv(credentialEnvVar)
	if privateKey == "" {
		rootLogger.Error("Signing credential is not set", "env_var", credentialEnvVar)
		fmt.Printf(Red+"Missing signing credential: set %s before running.\n"+Reset, credentialEnvVar)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 3. DEPLOYMENT METADATA ---
	book, err := addressbook.Load(cfg.DeploymentsPath)
	if err != nil {
		rootLogger.Error("Failed to load deployment metadata", "path", cfg.DeploymentsPath, "error", err)
		closeApp()
	}

	rootLogger.Info("Loaded deployment metadata",
		"path", cfg.DeploymentsPath,
		"entries", book.Len(),
		"names", book.Names(),
	)

	routerAddr, ok := book.Resolve(cfg.RouterKey)
	if !ok {
		rootLogger.Error("Router entry point missing from deployment metadata", "router_key", cfg.RouterKey)
		closeApp()
	}

	// --- 4. TRANSPORT & COMPONENTS ---
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		rootLogger.Error("Failed to connect to RPC endpoint", "url", cfg.RPCURL, "error", err)
		closeApp()
	}
	defer client.Close()

	reader := lendingmanager.NewReader(cfg.ManagerAddress(), client)

	executor, err := router.NewExecutor(router.Config{
		Router:        routerAddr,
		Backend:       client,
		PrivateKeyHex: privateKey,
		ChainID:       big.NewInt(cfg.ChainID),
		GasLimit:      cfg.GasLimit,
		TxTimeout:     cfg.TxTimeout(),
	})
	if err != nil {
		rootLogger.Error("Failed to initialize executor", "error", err)
		closeApp()
	}

	targets, err := cfg.KeeperTargets()
	if err != nil {
		rootLogger.Error("Failed to parse targets", "error", err)
		closeApp()
	}

	k, err := keeper.New(keeper.Config{
		Targets:  targets,
		Book:     book,
		Reader:   reader,
		Executor: executor,
		Logger:   rootLogger.With("component", "keeper"),
		Registry: prometheus.DefaultRegisterer,
		Workers:  cfg.Workers,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize keeper", "error", err)
		closeApp()
	}

	// --- 5. RUN & REPORT ---
	header("ACHIEVING TARGET UTILIZATION FOR ALL LENDING POOLS")
	fmt.Printf("LendingManager: %s%s%s\n", Bold, cfg.ManagerAddress().Hex(), Reset)
	fmt.Printf("Router:         %s%s%s\n", Bold, routerAddr.Hex(), Reset)
	fmt.Printf("Sender:         %s%s%s\n", Bold, executor.From().Hex(), Reset)
	fmt.Printf("Assets:         %s%d%s\n", Bold, len(targets), Reset)
	fmt.Println("Logs are being written to 'keeper.log'")

	outcomes := k.Run(ctx)
	printSummary(outcomes)

	if cfg.DashboardURL != "" {
		fmt.Println("\nVerify results:")
		fmt.Printf("  Dashboard: %s\n", cfg.DashboardURL)
	}

	if !keeper.AllOK(outcomes) {
		os.Exit(1)
	}
}

// printSummary renders one terminal line per asset; no asset is ever
// silently dropped from the table.
func printSummary(outcomes []keeper.Outcome) {
	header("SUMMARY")

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "ASSET\tSTATUS\tCURRENT\tTARGET\tAMOUNT\tDETAIL\t")
	fmt.Fprintln(w, "-----\t------\t-------\t------\t------\t------\t")

	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			o.Symbol,
			statusLabel(o.Status),
			o.CurrentPct.StringFixed(2)+"%",
			o.TargetPct.StringFixed(2)+"%",
			o.Amount.String(),
			detailFor(o),
		)
	}
	w.Flush()
}

func statusLabel(status keeper.OutcomeStatus) string {
	switch status {
	case keeper.StatusSuccess:
		return Green + "BORROWED" + Reset
	case keeper.StatusNoActionNeeded:
		return Green + "AT TARGET" + Reset
	case keeper.StatusSkippedPreAchieved:
		return Gray + "PRE-ACHIEVED" + Reset
	case keeper.StatusSkippedUnresolved:
		return Yellow + "UNRESOLVED" + Reset
	case keeper.StatusFailed:
		return Red + "FAILED" + Reset
	case keeper.StatusError:
		return Red + "ERROR" + Reset
	default:
		return string(status)
	}
}

func detailFor(o keeper.Outcome) string {
	switch o.Status {
	case keeper.StatusSuccess:
		return o.Receipt.TxHash.Hex()
	case keeper.StatusFailed, keeper.StatusError, keeper.StatusSkippedUnresolved:
		return o.Reason
	default:
		return ""
	}
}

func loadConfig() (*config.KeeperConfig, error) {
	configPath := flag.String("config", "keeper.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
