package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mwallet/pkg/chains"
	"mwallet/pkg/config"
	"mwallet/pkg/indexer"
	"mwallet/pkg/log"
	"mwallet/pkg/models"
	"mwallet/pkg/rpc"
	"mwallet/pkg/server"
	"mwallet/pkg/session"
	"mwallet/pkg/transfer"
	"mwallet/pkg/tui"
	"mwallet/pkg/watcher"
)

// Version should be set during build
var Version = "dev"

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	configFlag := flag.String("config", "", "Path to configuration file")
	envFlag := flag.String("env", ".env", "Path to dotenv file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	apiFlag := flag.Bool("api", false, "Serve the local API alongside the terminal UI")
	listenFlag := flag.String("listen", "", "Listen address for the API server (overrides config)")
	portFlag := flag.Int("port", 0, "Port for API server on 127.0.0.1 (overrides -listen)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mwallet version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}

	if err := config.LoadDotEnv(*envFlag); err != nil {
		fmt.Printf("Error loading %s: %v\n", *envFlag, err)
		os.Exit(1)
	}

	chainCfgs, globalCfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(&globalCfg); err != nil {
		fmt.Printf("Error reading environment: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		globalCfg.ListenAddr = *listenFlag
	}
	if *portFlag != 0 {
		globalCfg.ListenAddr = fmt.Sprintf("127.0.0.1:%d", *portFlag)
	}

	if *testFlag || *testLongFlag {
		os.Exit(runTest(path, chainCfgs, globalCfg, *jsonFlag))
	}

	if err := config.Validate(chainCfgs, globalCfg); err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Printf("Please fix the configuration at %s.\n", path)
		os.Exit(1)
	}

	tuiMode := !*serverFlag
	if tuiMode {
		err = log.InitQuiet(globalCfg.LogLevel, globalCfg.LogFile)
	} else {
		err = log.Init(globalCfg.LogLevel, globalCfg.LogJSON, globalCfg.LogFile)
	}
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		os.Exit(1)
	}

	registry, err := chains.NewRegistry(chainCfgs, globalCfg.DefaultChain)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := rpc.NewPool(rpc.DialEthclient)
	defer pool.Close()

	idx := indexer.NewClient(globalCfg.IndexerURL, globalCfg.MoralisAPIKey, &http.Client{Timeout: watcher.FetchTimeout})
	w := watcher.NewWatcher(registry, &watcher.RealDataSource{Pool: pool, Indexer: idx})
	w.Start(ctx)
	defer w.Stop()

	sess := session.NewStore(registry)
	sess.OnChange(func(v session.View) {
		w.SetTarget(watcher.Target{
			Active:     v.Active,
			Address:    v.Address,
			ChainID:    v.ChainID,
			Generation: v.Generation,
		})
	})
	defer sess.Logout()

	engine := transfer.NewEngine(registry, sess, pool, w, transfer.Options{
		PollInterval:   time.Duration(globalCfg.PollIntervalSeconds) * time.Second,
		ConfirmTimeout: time.Duration(globalCfg.ConfirmTimeoutSeconds) * time.Second,
	})
	srv := server.NewServer(registry, sess, w, engine, globalCfg.CORSOrigins)

	if *serverFlag {
		fmt.Printf("Running in server mode on %s...\n", globalCfg.ListenAddr)
		if err := srv.Start(ctx, globalCfg.ListenAddr); err != nil {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *apiFlag {
		go func() {
			if err := srv.Start(ctx, globalCfg.ListenAddr); err != nil {
				log.Server.Error().Err(err).Str("addr", globalCfg.ListenAddr).Msg("API server stopped")
			}
		}()
	}

	if err := tui.Start(tui.Deps{
		Registry: registry,
		Session:  sess,
		Watcher:  w,
		Engine:   engine,
		Config:   globalCfg,
	}, Version); err != nil {
		fmt.Printf("Error running terminal UI: %v\n", err)
		os.Exit(1)
	}
}

// runTest validates the configuration and probes each chain's RPC endpoint.
// It returns the process exit code.
func runTest(path string, chainCfgs []config.ChainConfig, globalCfg config.GlobalConfig, jsonOut bool) int {
	report := models.TestReport{
		ConfigPath:     path,
		ValidStructure: true,
		ChainCount:     len(chainCfgs),
	}
	printReport := func() {
		if jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
	}

	if !jsonOut {
		fmt.Printf("Testing configuration at: %s\n", path)
	}

	if err := config.Validate(chainCfgs, globalCfg); err != nil {
		report.ValidStructure = false
		report.StructureErrors = append(report.StructureErrors, err.Error())
		if !jsonOut {
			fmt.Printf("Error: %v\n", err)
		}
		printReport()
		return 1
	}

	if !jsonOut {
		fmt.Printf("Found %d chains.\n", len(chainCfgs))
	}

	for _, chain := range chainCfgs {
		if !jsonOut {
			fmt.Printf("Testing Chain: %s (%s)\n", chain.Name, chain.Symbol)
			fmt.Printf("  RPC: %s ... ", chain.RPCURL)
		}
		res := rpc.CheckChain(context.Background(), rpc.DialEthclient, chain)
		switch {
		case res.RPC.Status != "ok":
			if !jsonOut {
				fmt.Printf("Failed: %s\n", res.RPC.Error)
			}
		case res.Mismatch:
			report.MismatchedChains = append(report.MismatchedChains, chain.Name)
			if !jsonOut {
				fmt.Printf("MISMATCH! Expected %s, got %s\n", chain.ID, res.ObservedChainID)
			}
		default:
			if !jsonOut {
				fmt.Printf("OK (ChainID: %s) - Verified\n", res.ObservedChainID)
			}
		}
		report.Chains = append(report.Chains, res)
	}

	if len(report.MismatchedChains) > 0 && !jsonOut {
		fmt.Println("\nWARNING: Chain ID mismatch detected!")
		fmt.Println("Transfers on these chains will be refused until the RPC URL is fixed:")
		for _, name := range report.MismatchedChains {
			fmt.Printf(" - %s\n", name)
		}
	}

	printReport()
	if len(report.MismatchedChains) > 0 {
		return 1
	}
	return 0
}
