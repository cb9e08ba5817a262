package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fwdbot/internal/account"
	accttg "fwdbot/internal/account/telegram"
	"fwdbot/internal/config"
	"fwdbot/internal/control"
	"fwdbot/internal/eventbus"
	"fwdbot/internal/forwarder"
	"fwdbot/internal/frontend"
	"fwdbot/internal/notifier"
	"fwdbot/internal/notifier/broadcast"
	"fwdbot/internal/reconciler"
	"fwdbot/internal/runtime/supervisor"
	"fwdbot/internal/storage"
	"fwdbot/internal/transport"
	telegram "fwdbot/internal/transport/telegram/adapter"
	logx "fwdbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	sd   sdNotify

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	pool    *account.Pool
	notif   *notifier.Service
	bcast   *broadcast.Service

	loopSup *supervisor.Supervisor
	loops   *forwarder.Registry
	recon   *reconciler.Controller
	ctl     *control.Service

	router   *frontend.Router
	handlers *frontend.Handlers

	updates  chan transport.Update
	outbound context.Context
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	fw, err := cfg.Forwarding.Resolve()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig(), ad)
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)
	bcast := broadcast.New(mapBroadcastConfig(cfg), ad, log.With(logx.String("comp", "broadcast")))

	dialer := accttg.NewDialer(store, log.With(logx.String("comp", "account")))
	pool := account.NewPool(dialer, log)

	loopSup := supervisor.New(context.Background(), supervisor.WithLogger(log.With(logx.String("comp", "forwarder"))))
	loops := forwarder.NewRegistry(loopSup,
		forwarder.WithLogger(log),
		forwarder.WithBus(bus),
		forwarder.WithNotifier(notif),
		forwarder.WithTiming(forwarderTiming(fw)),
	)

	ctl := control.New(store, loops, pool,
		control.WithLogger(log),
		control.WithNotifier(notif),
		control.WithBroadcaster(bcast),
		control.WithDelayPolicy(delayPolicy(fw)),
		control.WithDefaultDelay(fw.DefaultDelaySeconds),
		control.WithFreeAccountLimit(fw.FreeAccountLimit),
		control.WithStopTimeout(fw.StopTimeout),
	)

	recon := reconciler.New(store, ctl.Runner(),
		reconciler.WithLogger(log),
		reconciler.WithBus(bus),
		reconciler.WithEvery(fw.ReconcileEvery),
		reconciler.WithStopTimeout(fw.StopTimeout),
	)

	router := frontend.NewRouter(ad,
		frontend.WithOwners(cfg.Telegram.OwnerUserIDs),
		frontend.WithRouterLogger(log),
	)

	return &App{
		cfgm:     cfgm,
		sd:       sdNotify{log: log.With(logx.String("comp", "systemd"))},
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		pool:     pool,
		notif:    notif,
		bcast:    bcast,
		loopSup:  loopSup,
		loops:    loops,
		recon:    recon,
		ctl:      ctl,
		router:   router,
		handlers: frontend.NewHandlers(ctl, router),
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})
	run := a.sup.Context()
	a.outbound = context.WithoutCancel(run)

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	// Outbound queues outlive intake so loops stopped during shutdown can
	// still report; Stop drains them explicitly.
	if a.notif.Enabled() {
		a.notif.Start(a.outbound)
	}
	a.bcast.Start(a.outbound)

	tenants, err := a.store.List(run)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	connected := a.pool.LoadAll(run, tenants)

	a.router.SetCommands(run, a.handlers.Commands())
	a.sup.Go("frontend.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	recovered, err := a.ctl.Recover(run)
	if err != nil {
		a.log.Warn("startup recovery incomplete", logx.Err(err))
	}
	if err := a.recon.Start(run); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", a.sd.watchdog)

	a.sd.ready()
	a.log.Info("app started",
		logx.String("bot", a.adapter.Username()),
		logx.Int("tenants", len(tenants)),
		logx.Int("accounts", connected),
		logx.Int("recovered", recovered),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	// Stop intake first; loops keep running until StopAll below.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("reconciler", 2*time.Second, func(c context.Context) error { a.recon.Stop(c); return nil })
	step("forwarder", 20*time.Second, func(c context.Context) error {
		if err := a.loops.StopAll(c); err != nil {
			return err
		}
		return a.loopSup.Stop(c)
	})
	step("broadcast", 2*time.Second, func(c context.Context) error { a.bcast.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("accounts", 2*time.Second, func(context.Context) error { return a.pool.Close() })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
