package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tolelom/gameoracle/config"
	"github.com/tolelom/gameoracle/consensus"
	"github.com/tolelom/gameoracle/core"
	"github.com/tolelom/gameoracle/crypto"
	"github.com/tolelom/gameoracle/events"
	"github.com/tolelom/gameoracle/indexer"
	"github.com/tolelom/gameoracle/internal/logger"
	"github.com/tolelom/gameoracle/rpc"
	"github.com/tolelom/gameoracle/storage"
	"github.com/tolelom/gameoracle/vm"
	"github.com/tolelom/gameoracle/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/gameoracle/vm/modules/credit"
	_ "github.com/tolelom/gameoracle/vm/modules/dispute"
	_ "github.com/tolelom/gameoracle/vm/modules/economy"
	_ "github.com/tolelom/gameoracle/vm/modules/oracle"
	_ "github.com/tolelom/gameoracle/vm/modules/registry"
)

// Node is the assembled daemon.
type Node struct {
	Log       *zap.Logger          `do:""`
	Chain     *core.Blockchain     `do:""`
	Sequencer *consensus.Sequencer `do:""`
	RPC       *rpc.Server          `do:""`
}

func runNode(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	privKey, err := wallet.LoadKey(cmd.String("key"), keyPassword())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, privKey)
	do.ProvideValue[core.Clock](i, core.SystemClock{})
	provide(i)
	do.Provide(i, do.InvokeStruct[Node])

	node, err := do.Invoke[Node](i)
	if err != nil {
		return fmt.Errorf("assemble node: %w", err)
	}
	defer do.MustInvoke[storage.DB](i).Close()
	defer node.Log.Sync() //nolint:errcheck

	if err := node.RPC.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer node.RPC.Stop()

	node.Log.Info("oracle running",
		zap.String("node", cfg.NodeID),
		zap.String("chain", cfg.Genesis.ChainID),
		zap.String("sequencer", privKey.Public().Hex()),
		zap.Int64("height", node.Chain.Height()),
		zap.Bool("rpc_auth", cfg.RPCAuthToken != ""))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	node.Log.Info("shutting down")
	return nil
}

// provide registers every daemon component with the injector.
func provide(i do.Injector) {
	do.Provide(i, func(i do.Injector) (*zap.Logger, error) {
		return logger.New(do.MustInvoke[*config.Config](i).Log)
	})

	do.Provide(i, func(i do.Injector) (storage.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
		name := "chain"
		if cfg.Backend == storage.BackendBolt {
			name = "chain.db"
		}
		return storage.Open(cfg.Backend, filepath.Join(cfg.DataDir, name))
	})

	do.Provide(i, func(i do.Injector) (*storage.StateDB, error) {
		return storage.NewStateDB(do.MustInvoke[storage.DB](i)), nil
	})

	do.Provide(i, func(i do.Injector) (*events.Emitter, error) {
		return events.NewEmitter(do.MustInvoke[*zap.Logger](i)), nil
	})

	do.Provide(i, func(i do.Injector) (*indexer.Indexer, error) {
		return indexer.New(
			do.MustInvoke[storage.DB](i),
			do.MustInvoke[*events.Emitter](i),
			do.MustInvoke[*zap.Logger](i),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*core.Blockchain, error) {
		cfg := do.MustInvoke[*config.Config](i)
		state := do.MustInvoke[*storage.StateDB](i)
		priv := do.MustInvoke[crypto.PrivateKey](i)
		clock := do.MustInvoke[core.Clock](i)
		log := do.MustInvoke[*zap.Logger](i)

		bc := core.NewBlockchain(storage.NewBlockStore(do.MustInvoke[storage.DB](i)))
		if err := bc.Init(); err != nil {
			return nil, fmt.Errorf("blockchain init: %w", err)
		}
		if bc.Tip() == nil {
			genesis, err := config.CreateGenesisBlock(cfg, state, priv, clock.Now().UnixNano())
			if err != nil {
				return nil, fmt.Errorf("genesis: %w", err)
			}
			if err := bc.AddBlock(genesis); err != nil {
				return nil, fmt.Errorf("add genesis: %w", err)
			}
			log.Info("genesis block committed", zap.String("hash", genesis.Hash))
		}
		return bc, nil
	})

	do.Provide(i, func(i do.Injector) (*vm.Executor, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return vm.NewExecutor(
			do.MustInvoke[*storage.StateDB](i),
			do.MustInvoke[*events.Emitter](i),
			vm.WithParams(cfg.Params),
			vm.WithAdmins(cfg.Genesis.Admins),
			vm.WithLogger(do.MustInvoke[*zap.Logger](i)),
		), nil
	})

	do.Provide(i, func(i do.Injector) (*consensus.Sequencer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		bc := do.MustInvoke[*core.Blockchain](i)
		// The indexer must be subscribed before the first transaction runs.
		do.MustInvoke[*indexer.Indexer](i)
		seq := consensus.New(
			cfg.Genesis.ChainID,
			bc,
			do.MustInvoke[*storage.StateDB](i),
			do.MustInvoke[*vm.Executor](i),
			do.MustInvoke[*events.Emitter](i),
			do.MustInvoke[core.Clock](i),
			do.MustInvoke[crypto.PrivateKey](i),
			do.MustInvoke[*zap.Logger](i),
		)
		if err := seq.VerifyBlock(bc.Tip()); err != nil {
			return nil, fmt.Errorf("chain tip: %w", err)
		}
		return seq, nil
	})

	do.Provide(i, func(i do.Injector) (*rpc.Server, error) {
		cfg := do.MustInvoke[*config.Config](i)
		exec := do.MustInvoke[*vm.Executor](i)
		handler := rpc.NewHandler(
			do.MustInvoke[*core.Blockchain](i),
			do.MustInvoke[*consensus.Sequencer](i),
			do.MustInvoke[*indexer.Indexer](i),
			exec.Schemas(),
		)
		return rpc.NewServer(cfg.RPCAddr, handler, cfg.RPCAuthToken, do.MustInvoke[*zap.Logger](i)), nil
	})
}
