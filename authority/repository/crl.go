package repository

import (
	"context"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp"
	"github.com/whitekid/goxp/log"

	"capki/authority/tree"
	"capki/authority/types"
	"capki/pkg/helper"
)

// RefreshAllCRLs regenerate CRL of every intermediate CA and publish it
// every CA is attempted, failures are aggregated
func (repo *repoImpl) RefreshAllCRLs(ctx context.Context) error {
	repo.muCRL.Lock()
	defer repo.muCRL.Unlock()

	entries, err := repo.registry.List(ctx)
	if err != nil {
		return errors.Wrap(err, "fail to refresh CRL")
	}

	var result error
	for _, entry := range entries {
		if entry.IsRoot() {
			continue
		}

		if err := repo.refreshCRL(ctx, entry); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "fail to refresh CRL of %s", entry.Issuer()))
		}
	}

	return result
}

func (repo *repoImpl) refreshCRL(ctx context.Context, entry *types.Entry) error {
	log.Debugf("refresh CRL: %s", entry.Issuer())

	dir, found, err := repo.caDir(entry.Root, entry.Name)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(ErrCANotFound, "%s", entry.Issuer())
	}

	publicDir, err := repo.publicDir(dir, entry.Root)
	if err != nil {
		return err
	}

	layout := tree.Layout{Dir: dir, Name: entry.Name}
	unlock := repo.lockCA(dir)
	updated, err := repo.toolchain.GenerateCRL(ctx, entry.Secret, layout.ConfigFile(), dir)
	unlock()
	if err != nil {
		return err
	}

	if updated {
		if err := helper.CopyFile(layout.CRLFile(), filepath.Join(publicDir, tree.CRLFileName(entry.Name))); err != nil {
			return errors.Wrap(err, "fail to publish CRL")
		}
		log.Debugf("CRL published: %s", entry.Issuer())
	}

	return nil
}

func (repo *repoImpl) StartCRLRefresher(ctx context.Context, interval time.Duration, errCh chan error) {
	refresh := func() error {
		if err := repo.RefreshAllCRLs(ctx); err != nil {
			return errors.Wrap(err, "scheduled CRL refresh failed")
		}
		return nil
	}

	if err := refresh(); err != nil {
		errCh <- err
	}

	if interval > 0 {
		go goxp.Every(ctx, interval, refresh, errCh)
	}
}
