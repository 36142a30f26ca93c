package gormx

import (
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	type args struct {
		dburl string
	}
	tests := [...]struct {
		name    string
		args    args
		wantErr bool
	}{
		{`sqlite`, args{dburl: "sqlite://" + filepath.Join(dir, "registry.db")}, false},
		{`sqlite3 alias`, args{dburl: "sqlite3://" + filepath.Join(dir, "registry3.db")}, false},
		{`unsupported`, args{dburl: "oracle://localhost/registry"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(tt.args.dburl)
			require.Truef(t, (err != nil) == tt.wantErr, `Open() failed: error = %+v, wantErr = %v`, err, tt.wantErr)
			if tt.wantErr {
				return
			}
			require.NotEmpty(t, db)

			sqlDB, err := db.DB()
			require.NoError(t, err)
			require.NoError(t, sqlDB.Close())
		})
	}
}

func TestDialectorOptions(t *testing.T) {
	tests := [...]struct {
		name  string
		dburl string
		want  interface{}
	}{
		{`mysql`, "mysql://capki:secret@db:3306/registry?charset=utf8mb4&DefaultStringSize=256&SkipInitializeWithVersion=true",
			mysql.Config{DSN: "capki:secret@tcp(db:3306)/registry?charset=utf8mb4", DefaultStringSize: 256, SkipInitializeWithVersion: true}},
		{`mysql invalid options`, "mysql://capki@db:3306/registry?DefaultStringSize=-1&DontSupportRenameIndex=maybe",
			mysql.Config{DSN: "capki:@tcp(db:3306)/registry?"}},
		{`postgres`, "postgres://capki:secret@db:5432/registry?sslmode=disable&PreferSimpleProtocol=1",
			postgres.Config{DSN: "host=db user=capki database=registry password=secret port=5432 sslmode=disable", PreferSimpleProtocol: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.dburl)
			require.NoError(t, err)

			switch want := tt.want.(type) {
			case mysql.Config:
				require.Equal(t, want, *newMySQLDialector(u).(*mysql.Dialector).Config)
			case postgres.Config:
				require.Equal(t, want, *newPgDialector(u).(*postgres.Dialector).Config)
			}
		})
	}
}
