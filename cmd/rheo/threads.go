package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/rheo/workflow/checkpoint"
)

func runThreads(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: rheo threads list|show|delete [id] [--config path]")
	}
	sub := args[0]

	fs := flag.NewFlagSet("threads "+sub, flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, err := common.loadConfig()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, err := checkpoint.New(cfg.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if store == nil {
		return errors.New("checkpoint store is disabled (checkpoint.type: none)")
	}
	defer store.Close()

	ctx := context.Background()
	switch sub {
	case "list":
		return listThreads(ctx, os.Stdout, store)
	case "show", "delete":
		if fs.NArg() != 1 {
			return fmt.Errorf("threads %s requires a thread id", sub)
		}
		id := fs.Arg(0)
		if sub == "show" {
			return showThread(ctx, os.Stdout, store, id)
		}
		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		logger.Info("thread deleted", zap.String("thread_id", id))
		return nil
	default:
		return fmt.Errorf("unknown threads subcommand: %s", sub)
	}
}

func listThreads(ctx context.Context, w io.Writer, store checkpoint.Store) error {
	ids, err := store.ListThreads(ctx)
	if err != nil {
		return err
	}
	inspector, _ := store.(checkpoint.Inspector)
	for _, id := range ids {
		if inspector == nil {
			fmt.Fprintln(w, id)
			continue
		}
		rec, err := inspector.Record(ctx, id)
		if err != nil {
			fmt.Fprintf(w, "%s\t(%v)\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", id, rec.Timestamp)
	}
	return nil
}

func showThread(ctx context.Context, w io.Writer, store checkpoint.Store, id string) error {
	st, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(st.ToMap(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
