package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"depinchat/internal/config"
	"depinchat/internal/cryptomsg"
	"depinchat/internal/directory"
	"depinchat/internal/logging"
	"depinchat/internal/poller"
	"depinchat/internal/rpcclient"
	"depinchat/internal/secret"
	"depinchat/internal/sender"
	"depinchat/internal/shutdown"
	"depinchat/internal/store"
	"depinchat/internal/supervisor"
	"depinchat/internal/ui"
	"depinchat/internal/wallet"
)

const (
	configPath = "config.json"
	logPath    = "depinchat.log"
)

func main() {
	rec, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
	}
	defer logger.Sync()

	wif, err := secret.UnlockInteractive(rec.PrivateKey, 3, os.Stdin, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "unlock:", err)
		os.Exit(1)
	}

	w, err := wallet.FromWIF(wif)
	if err != nil {
		fmt.Fprintln(os.Stderr, "wallet:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rpc := rpcclient.New(rec.RpcPath(), rec.RpcUsername, rec.RpcPassword)
	crypto := cryptomsg.New()
	dir := directory.New(rpc, crypto, rec.Token)
	messageStore := store.New()

	send := sender.New(rpc, crypto, dir, messageStore, rec.Token, w.Address, w.PubkeyHex, w.PrivateKey)
	adapter := ui.New(send, dir, logger, w.Address)

	p := poller.New(rpc, crypto, dir, messageStore, adapter, logger, rec.Token, w.Address, w.PrivateKey, rec.PollInterval)

	sup := supervisor.New(rpc, dir, p, adapter, logger, rec.Token, w.Address,
		store.New,
		func(st *store.Store) {
			p.SetStore(st)
			send.SetStore(st)
		},
	)
	p.SetRpcDownHook(sup.NotifyRpcDown)

	shutdown.New(cancel, adapter, logger)

	sup.Start(ctx)

	if err := adapter.Run(); err != nil {
		logger.Error("ui exited with error", zap.Error(err))
		os.Exit(1)
	}
}
