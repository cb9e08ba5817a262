package app

import (
	"context"
	"errors"
	"fmt"

	"fwdbot/internal/account"
	accttg "fwdbot/internal/account/telegram"
	"fwdbot/internal/config"
	"fwdbot/internal/control"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/reconciler"
	"fwdbot/internal/storage"
	logx "fwdbot/pkg/logx"
)

// Offline opens the record store and the control plane without the bot
// transport. No loop runs in an Offline toolkit: changes to a tenant's run
// state reach a live daemon through its reconciler or the tenant's next
// command.
type Offline struct {
	Config     *config.Config
	Store      storage.Store
	Control    *control.Service
	Reconciler *reconciler.Controller

	pool *account.Pool
}

func OpenOffline(ctx context.Context, cfgPath string, log logx.Logger) (*Offline, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	fw, err := cfg.Forwarding.Resolve()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pool := account.NewPool(accttg.NewDialer(store, log), log)
	loops := forwarder.NewRegistry(nil, forwarder.WithLogger(log))
	ctl := control.New(store, loops, pool,
		control.WithLogger(log),
		control.WithDelayPolicy(delayPolicy(fw)),
		control.WithDefaultDelay(fw.DefaultDelaySeconds),
		control.WithFreeAccountLimit(fw.FreeAccountLimit),
	)
	return &Offline{
		Config:  cfg,
		Store:   store,
		Control: ctl,
		Reconciler: reconciler.New(store, ctl.Runner(),
			reconciler.WithLogger(log),
			reconciler.WithEvery(fw.ReconcileEvery),
		),
		pool: pool,
	}, nil
}

func (o *Offline) Close() error {
	return errors.Join(o.pool.Close(), o.Store.Close())
}
