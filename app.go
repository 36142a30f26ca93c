package capki

import (
	"context"
	"os"

	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/api/endpoints"
	"capki/api/public"
	v1 "capki/api/v1"
	"capki/authority"
	"capki/config"
	"capki/pkg/helper"
)

// Run serve api and public mirror until ctx is done
func Run(ctx context.Context, cfg *config.Config) error {
	unlock, err := lockPKI(cfg)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := authority.Relocate(cfg.PKIDir); err != nil {
		return err
	}

	auth, registry, err := authority.Open(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	if cfg.Bootstrap != "" {
		plan, err := authority.LoadPlan(cfg.Bootstrap)
		if err != nil {
			return err
		}

		if _, err := auth.Bootstrap(ctx, plan); err != nil {
			return err
		}
	}

	errCh := make(chan error)
	go fx.CloseChan(ctx, errCh)
	go fx.IterChan(ctx, errCh, func(err error) { log.Errorf("%+v", err) })

	auth.StartCRLRefresher(ctx, cfg.CRL.Interval, errCh)

	serverErr := make(chan error, 1)
	if cfg.Server.Public != "" {
		go func() {
			log.Infof("public mirror listen on %s", cfg.Server.Public)
			serverErr <- newApp(public.New(auth, cfg.PublicDir())).Serve(ctx, cfg.Server.Public)
		}()
	}

	log.Infof("api listen on %s", cfg.Server.Listen)
	if err := newApp(v1.New(auth)).Serve(ctx, cfg.Server.Listen); err != nil {
		return err
	}

	select {
	case err := <-serverErr:
		return err
	default:
		return nil
	}
}

func newApp(endpoint ...endpoints.Endpoint) *helper.Echo {
	e := helper.NewEcho()
	endpoints.Route(e, endpoint...)
	return e
}

// lockPKI take the process lock of pkidir; only one server may write to it
func lockPKI(cfg *config.Config) (func(), error) {
	if err := os.MkdirAll(cfg.DBDir(), 0o700); err != nil {
		return nil, errors.Wrap(err, "fail to lock pkidir")
	}

	lock, err := lockfile.New(cfg.LockFile())
	if err != nil {
		return nil, errors.Wrap(err, "fail to lock pkidir")
	}

	if err := lock.TryLock(); err != nil {
		return nil, errors.Wrapf(err, "pkidir %s is used by another process", cfg.PKIDir)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			log.Warnf("fail to unlock pkidir: %v", err)
		}
	}, nil
}
