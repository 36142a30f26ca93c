package registry

import (
	"context"

	"github.com/pkg/errors"
	"github.com/whitekid/goxp/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"capki/authority/registry/models"
	"capki/authority/types"
	"capki/pkg/helper/gormx"
)

// sqlImpl registry on SQL database
type sqlImpl struct {
	db       *gorm.DB
	ocspBase int
}

var _ Interface = (*sqlImpl)(nil)

func NewSQL(dburl string, ocspBase int) (Interface, error) {
	db, err := gormx.Open(dburl, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "capki_",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "fail to open sql registry")
	}

	if err := models.Migrate(db); err != nil {
		return nil, errors.Wrap(err, "fail to open sql registry")
	}

	return &sqlImpl{db: db, ocspBase: ocspBase}, nil
}

func (r *sqlImpl) Record(ctx context.Context, entry *types.Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	row := &models.Entry{
		Root:     entry.Root,
		Parent:   entry.Parent,
		Name:     entry.Name,
		Secret:   entry.Secret,
		OCSPPort: entry.OCSPPort,
	}
	if tx := r.db.WithContext(ctx).Create(row); tx.Error != nil {
		return errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to record CA")
	}

	return nil
}

func (r *sqlImpl) Lookup(ctx context.Context, root, name string) (*types.Entry, error) {
	var rows []*models.Entry
	if tx := r.db.WithContext(ctx).Where(&models.Entry{Root: root, Name: name}).Order("id").Limit(1).Find(&rows); tx.Error != nil {
		return nil, errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to lookup CA")
	}

	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "root=%s, name=%s", root, name)
	}

	return toEntry(rows[0]), nil
}

func (r *sqlImpl) List(ctx context.Context) ([]*types.Entry, error) {
	var rows []*models.Entry
	if tx := r.db.WithContext(ctx).Order("id").Find(&rows); tx.Error != nil {
		return nil, errors.Wrap(gormx.ConvertSQLError(tx.Error), "fail to list CA")
	}

	return fx.Map(rows, toEntry), nil
}

func (r *sqlImpl) NextOCSPPort(ctx context.Context) (int, error) {
	var max int
	row := r.db.WithContext(ctx).Model(&models.Entry{}).Select("COALESCE(MAX(ocsp_port), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, errors.Wrap(gormx.ConvertSQLError(err), "fail to get next ocsp port")
	}

	if max < r.ocspBase {
		max = r.ocspBase
	}
	return max + 1, nil
}

func (r *sqlImpl) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toEntry(row *models.Entry) *types.Entry {
	return &types.Entry{
		Root:     row.Root,
		Parent:   row.Parent,
		Name:     row.Name,
		Secret:   row.Secret,
		OCSPPort: row.OCSPPort,
	}
}
