package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custos-tech/custos/pkg/chainrpc"
	"github.com/custos-tech/custos/pkg/config"
	"github.com/custos-tech/custos/pkg/confirm"
	"github.com/custos-tech/custos/pkg/enqueue"
	"github.com/custos-tech/custos/pkg/execute"
	"github.com/custos-tech/custos/pkg/locks"
	"github.com/custos-tech/custos/pkg/log"
	"github.com/custos-tech/custos/pkg/metrics"
	"github.com/custos-tech/custos/pkg/nonce"
	"github.com/custos-tech/custos/pkg/rules"
	"github.com/custos-tech/custos/pkg/signer"
	"github.com/custos-tech/custos/pkg/store"
	"github.com/custos-tech/custos/pkg/types"
	"github.com/custos-tech/custos/pkg/worker"
)

var (
	version = "dev"

	configPath string
	chainName  string
)

func main() {
	root := &cobra.Command{
		Use:     "custos",
		Short:   "Custody workload coordination workers",
		Long:    "Custos runs the stateless workers that drive deposits, withdrawals, gas top-ups, and consolidations through their database-backed lifecycles.",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config overrides")
	root.PersistentFlags().StringVar(&chainName, "chain", "", "chain to operate on (required)")

	for _, wt := range []string{
		"deposit-confirm",
		"withdrawal-enqueue",
		"withdrawal-execute",
		"withdrawal-confirm",
		"consolidation-execute",
		"consolidation-confirm",
		"gas-execute",
		"gas-confirm",
		"planner",
	} {
		root.AddCommand(workerCommand(wt))
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func workerCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Run the %s worker", name),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chainName == "" {
				return fmt.Errorf("--chain is required")
			}
			return runWorker(cmd.Context(), name)
		},
	}
}

// workerType converts the subcommand name to the control-plane worker type.
func workerType(command string) string {
	out := make([]byte, len(command))
	for i := 0; i < len(command); i++ {
		if command[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = command[i]
		}
	}
	return string(out)
}

func runWorker(parent context.Context, command string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	wt := workerType(command)
	logger := log.WithComponent(wt)
	logger.Info().Str("version", version).Str("chain", chainName).Msg("starting")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()

	chain, err := db.GetChainByName(ctx, chainName)
	if err != nil {
		return err
	}
	if !chain.IsActive {
		return fmt.Errorf("chain %s is not active", chainName)
	}

	cycle, err := buildCycle(ctx, wt, cfg, db, chain)
	if err != nil {
		return err
	}

	rt := worker.New(db, wt, chain.Name, &chain.ID, cfg.ScanInterval, cfg.HeartbeatInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Run(ctx, cycle)
	})
	g.Go(func() error {
		return serveMetrics(ctx, cfg.MetricsAddr)
	})
	return g.Wait()
}

// buildCycle wires the stage for one worker type.
func buildCycle(ctx context.Context, wt string, cfg *config.Config, db *store.Store, chain *types.Chain) (worker.CycleFunc, error) {
	execPolicy := execute.Policy{
		BatchSize:       cfg.BatchSize,
		MaxGasPriceGwei: cfg.MaxGasPriceGwei,
		NativeFeeLimit:  cfg.NativeFeeLimit,
		BackoffBase:     cfg.BackoffBase,
		BackoffCap:      cfg.BackoffCap,
	}
	confirmPolicy := confirm.Policy{
		ConfirmBatch:    cfg.ConfirmBatch,
		ProcessingStale: cfg.ProcessingStale,
	}
	ttls := locks.TTLs{
		Consolidation: cfg.ConsolidationLockTTL,
		GasTopup:      cfg.GasLockTTL,
		Withdrawal:    cfg.WithdrawalLockTTL,
	}

	lm := locks.New(db, worker.Identity(wt), ttls)

	switch wt {
	case "withdrawal_enqueue":
		st := enqueue.New(db, chain.ID, chain.Name, cfg.BatchSize, cfg.MaxRetries)
		return st.Cycle, nil

	case "planner":
		p := rules.New(db, chain.ID, chain.Name, rules.Policy{
			BatchSize:         cfg.BatchSize,
			MaxRetries:        cfg.MaxRetries,
			GasTopupAmountRaw: cfg.GasTopupAmountRaw,
			LogRetention:      cfg.LogRetention,
		})
		return p.Cycle, nil

	case "deposit_confirm":
		rpc, _, err := dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		st := confirm.NewDeposit(db, rpc, chain, confirmPolicy)
		return st.Cycle, nil

	case "withdrawal_confirm":
		rpc, _, err := dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		st := confirm.NewWithdrawal(db, rpc, lm, chain, confirmPolicy)
		return st.Cycle, nil

	case "consolidation_confirm":
		rpc, _, err := dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		st := confirm.NewConsolidation(db, rpc, lm, chain, confirmPolicy)
		return st.Cycle, nil

	case "gas_confirm":
		rpc, _, err := dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		st := confirm.NewGasTopup(db, rpc, lm, chain, confirmPolicy)
		return st.Cycle, nil

	case "withdrawal_execute", "consolidation_execute", "gas_execute":
		_, pricer, err := dialChain(ctx, chain)
		if err != nil {
			return nil, err
		}
		sg := newSigner(ctx, cfg)
		nr := nonce.NewRegistry()
		switch wt {
		case "withdrawal_execute":
			st := execute.NewWithdrawal(db, sg, lm, nr, pricer, chain, execPolicy)
			return st.Cycle, nil
		case "consolidation_execute":
			st := execute.NewConsolidation(db, sg, lm, nr, pricer, chain, execPolicy)
			return st.Cycle, nil
		default:
			st := execute.NewGasTopup(db, sg, lm, nr, pricer, chain, execPolicy)
			return st.Cycle, nil
		}

	default:
		return nil, fmt.Errorf("unknown worker type %q", wt)
	}
}

// dialChain connects to the chain node, returning the EVM client a second
// time as the gas pricer where the chain supports it.
func dialChain(ctx context.Context, chain *types.Chain) (chainrpc.Client, execute.GasPricer, error) {
	client, err := chainrpc.Dial(ctx, chain)
	if err != nil {
		return nil, nil, err
	}
	if evm, ok := client.(*chainrpc.EVMClient); ok {
		return client, evm, nil
	}
	return client, nil, nil
}

func newSigner(ctx context.Context, cfg *config.Config) *signer.Client {
	sg := signer.New(cfg.SignerBaseURL, cfg.SignerAPIKey, cfg.ServiceName)
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sg.Healthy(probe); err != nil {
		log.Logger.Warn().Err(err).Msg("signer health probe failed, starting anyway")
	}
	return sg
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
