package repository

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"github.com/whitekid/goxp/log"

	"capki/authority/types"
	"capki/pkg/helper"
)

// Plan hierarchy to create on first start
//
//	ca:
//	  roots:
//	    acme:
//	      passphrase: secret
//	      days: 3650
//	      country: KR
//	      organization: Acme
//	      commonname: Acme Root CA
//	      issued:
//	        - name: acme-web
//	          commonname: Acme Web CA
//	server:
//	  commonname: pki.example.com
//	  issuer: {root: acme, name: acme-web}
//	  certificate: {name: api, lifetime: 365, directory: api}
type Plan struct {
	CA struct {
		Roots map[string]*PlanRoot `yaml:"roots"`
	} `yaml:"ca"`
	Server *PlanServer `yaml:"server,omitempty"`
}

type PlanRoot struct {
	Passphrase   string              `yaml:"passphrase"`
	Days         int                 `yaml:"days"`
	Country      string              `yaml:"country"`
	State        string              `yaml:"state"`
	Locality     string              `yaml:"locality"`
	Organization string              `yaml:"organization"`
	Unit         string              `yaml:"unit"`
	CommonName   string              `yaml:"commonname"`
	Issued       []*PlanIntermediate `yaml:"issued"`
}

func (r *PlanRoot) info(commonName string) types.Info {
	return types.Info{
		Country:      r.Country,
		State:        r.State,
		Locality:     r.Locality,
		Organization: r.Organization,
		Unit:         r.Unit,
		CommonName:   commonName,
	}
}

type PlanIntermediate struct {
	Name       string              `yaml:"name"`
	Passphrase string              `yaml:"passphrase"`
	CommonName string              `yaml:"commonname"`
	Issued     []*PlanIntermediate `yaml:"issued"`
}

// PlanServer certificate of API server issued on bootstrap
type PlanServer struct {
	CommonName  string       `yaml:"commonname"`
	Email       string       `yaml:"email"`
	AltNames    []string     `yaml:"altNames"`
	AltIPs      []string     `yaml:"altIps"`
	Issuer      types.Issuer `yaml:"issuer"`
	Certificate struct {
		Name       string `yaml:"name"`
		Passphrase string `yaml:"passphrase"`
		Lifetime   int    `yaml:"lifetime"`
		Directory  string `yaml:"directory"`
	} `yaml:"certificate"`
}

// LoadPlan read bootstrap plan yaml
func LoadPlan(name string) (*Plan, error) {
	plan := &Plan{}
	if err := helper.ReadYAMLFile(name, plan); err != nil {
		return nil, errors.Wrap(err, "fail to load plan")
	}

	return plan, nil
}

// Bootstrap create hierarchy of plan once; returns false if pkidir was already created
func (repo *repoImpl) Bootstrap(ctx context.Context, plan *Plan) (bool, error) {
	marker := repo.cfg.CreatedMarker()
	created, err := helper.FileExists(marker)
	if err != nil {
		return false, errors.Wrap(err, "fail to bootstrap")
	}
	if created {
		log.Infof("PKI exists in %s", repo.cfg.PKIDir)
		return false, nil
	}

	log.Infof("bootstrap PKI in %s", repo.cfg.PKIDir)
	if err := os.MkdirAll(repo.cfg.PublicDir(), 0o755); err != nil {
		return false, errors.Wrap(err, "fail to bootstrap")
	}

	names := fx.Keys(plan.CA.Roots)
	sort.Strings(names)
	for _, name := range names {
		root := plan.CA.Roots[name]
		if _, err := repo.CreateRoot(ctx, &types.CAConfig{
			Name:   name,
			Secret: root.Passphrase,
			Days:   root.Days,
			Info:   root.info(root.CommonName),
		}); err != nil && !skipExisting(err) {
			return false, errors.Wrap(err, "fail to bootstrap")
		}

		if err := repo.bootstrapIssued(ctx, types.Issuer{Root: name, Name: name}, root, root.Issued); err != nil {
			return false, errors.Wrap(err, "fail to bootstrap")
		}
	}

	if plan.Server != nil && plan.Server.Certificate.Name != "" {
		if err := repo.bootstrapServer(ctx, plan); err != nil {
			return false, errors.Wrap(err, "fail to bootstrap")
		}
	}

	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return false, errors.Wrap(err, "fail to bootstrap")
	}

	return true, nil
}

func (repo *repoImpl) bootstrapIssued(ctx context.Context, issuer types.Issuer, root *PlanRoot, issued []*PlanIntermediate) error {
	for _, inter := range issued {
		if _, err := repo.CreateIntermediate(ctx, &types.CAConfig{
			Name:   inter.Name,
			Secret: inter.Passphrase,
			Days:   root.Days,
			Info:   root.info(inter.CommonName),
		}, issuer); err != nil && !skipExisting(err) {
			return err
		}

		if err := repo.bootstrapIssued(ctx, types.Issuer{Root: issuer.Root, Name: inter.Name}, root, inter.Issued); err != nil {
			return err
		}
	}

	return nil
}

// skipExisting resume bootstrap interrupted before the created marker was written
func skipExisting(err error) bool {
	if errors.Is(err, ErrCAExists) {
		log.Infof("skip: %v", err)
		return true
	}
	return false
}

// bootstrapServer issue key and certificate of API server into pkidir/<directory>
func (repo *repoImpl) bootstrapServer(ctx context.Context, plan *Plan) error {
	server := plan.Server
	root, ok := plan.CA.Roots[server.Issuer.Root]
	if !ok {
		return errors.Wrapf(ErrUnknownIssuer, "%s", server.Issuer)
	}

	info := root.info(server.CommonName)
	info.Email = server.Email
	info.AltNames = server.AltNames
	info.IPAddresses = server.AltIPs

	pair, err := repo.CreatePair(ctx, &PairRequest{
		KeyPairRequest: KeyPairRequest{Passphrase: server.Certificate.Passphrase, Info: info},
		Issuer:         server.Issuer,
		Type:           types.CertTypeServer,
		Lifetime:       server.Certificate.Lifetime,
	})
	if err != nil {
		return err
	}

	dir := filepath.Join(repo.cfg.PKIDir, server.Certificate.Directory)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, server.Certificate.Name+".key.pem"), pair.Key, 0o600); err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, server.Certificate.Name+".cert.pem"), pair.Certificate, 0o644)
}
