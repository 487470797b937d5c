package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/outofsight/internal/admin"
	"github.com/dmitrijs2005/outofsight/internal/common"
	"github.com/dmitrijs2005/outofsight/internal/flagx"
	"github.com/dmitrijs2005/outofsight/internal/logging"
	"github.com/dmitrijs2005/outofsight/internal/server"
	"github.com/dmitrijs2005/outofsight/internal/server/config"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	configArgs, cmdArgs := flagx.SplitArgs(args, config.Flags, config.BoolFlags...)
	cfg := config.LoadConfig(configArgs)

	if cfg.MemoryMode {
		return errors.New("admin needs persistent backends; memory mode is only for the worker")
	}

	if len(cmdArgs) > 0 && admin.NeedsKeys(cmdArgs[0]) && cfg.RootSecret == "" && admin.StdinIsTerminal() {
		secret, err := admin.GetSecret(os.Stderr, "Enter root secret: ")
		if err != nil {
			return err
		}
		cfg.RootSecret = string(secret)
		common.WipeByteArray(secret)
	}

	logger := logging.NewJSON(os.Stderr, cfg.LogLevel)
	c, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	a := admin.NewApp(c, os.Stdout)
	err = a.Run(ctx, cmdArgs)
	if errors.Is(err, admin.ErrUsage) {
		a.Usage()
	}
	return err
}
