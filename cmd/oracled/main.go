// Command oracled runs the game-result oracle sequencer.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/tolelom/gameoracle/config"
	"github.com/tolelom/gameoracle/wallet"
)

// bootLog reports problems before the configured node logger exists.
var bootLog = zap.Must(zap.NewProduction())

func main() {
	defer bootLog.Sync() //nolint:errcheck
	configFlag := &cli.StringFlag{
		Name:    "config",
		Value:   "config.json",
		Usage:   "path to config file",
		Sources: cli.EnvVars("ORACLE_CONFIG"),
	}
	keyFlag := &cli.StringFlag{
		Name:    "key",
		Value:   "sequencer.key",
		Usage:   "path to keystore file",
		Sources: cli.EnvVars("ORACLE_KEY"),
	}

	cmd := &cli.Command{
		Name:  "oracled",
		Usage: "optimistic game-result oracle",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the sequencer and the JSON-RPC server",
				Flags:  []cli.Flag{configFlag, keyFlag},
				Action: runNode,
			},
			{
				Name:   "genkey",
				Usage:  "generate a sequencer key",
				Flags:  []cli.Flag{keyFlag},
				Action: genKey,
			},
			{
				Name:   "init-config",
				Usage:  "write the default config",
				Flags:  []cli.Flag{configFlag},
				Action: initConfig,
			},
		},
		DefaultCommand: "run",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		bootLog.Fatal("oracled failed", zap.Error(err))
	}
}

// keyPassword reads the keystore password from the environment (not CLI
// flags, they leak via ps).
func keyPassword() string {
	pw := os.Getenv("ORACLE_PASSWORD")
	if pw == "" {
		bootLog.Warn("ORACLE_PASSWORD not set; keystore uses an empty password")
	}
	return pw
}

func genKey(_ context.Context, cmd *cli.Command) error {
	w, err := wallet.Generate("")
	if err != nil {
		return err
	}
	path := cmd.String("key")
	if err := wallet.SaveKey(path, keyPassword(), w.PrivKey()); err != nil {
		return err
	}
	fmt.Printf("Generated key. Public key (sequencer address): %s\n", w.PubKey())
	fmt.Printf("Saved to: %s\n", path)
	return nil
}

func initConfig(_ context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
