package testutils

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/whitekid/goxp/fx"
)

// maxDBName identifier limit of postgresql; mysql allows 64
const maxDBName = 63

var dbNameReplacer = strings.NewReplacer("/", "_", ":", "_", "#", "_", " ", "_", "-", "_")

// DBName database name for a test; long names are cut and suffixed by a hash to stay unique
func DBName(name string) string {
	dbname := strings.ToLower(dbNameReplacer.Replace(name))
	if len(dbname) <= maxDBName {
		return dbname
	}

	sum := sha1.Sum([]byte(dbname))
	suffix := "_" + hex.EncodeToString(sum[:4])
	return dbname[:maxDBName-len(suffix)] + suffix
}

// sqlServers external servers; the database of each test is created over the admin connection
var sqlServers = map[string]struct {
	driver    string
	adminDSN  string
	urlFormat string
}{
	"mysql": {"mysql", "root:@tcp(127.0.0.1:3306)/mysql", "mysql://root:@127.0.0.1:3306/%s?parseTime=true"},
	"pgsql": {"pgx", "dbname=postgres", "postgresql:///%s"},
}

// ForEachSQLDriver run testfn for sqlite and for mysql, pgsql when CAPKI_TEST_SQL_<DRIVER>=true
func ForEachSQLDriver(t *testing.T, testfn func(t *testing.T, dbURL string, reset func())) {
	fx.ForEach([]string{"sqlite", "mysql", "pgsql"}, func(_ int, driver string) {
		if driver != "sqlite" && os.Getenv("CAPKI_TEST_SQL_"+strings.ToUpper(driver)) != "true" {
			t.Logf("skip driver %s", driver)
			return
		}

		ForOneSQLDriver(t, driver, testfn)
	})
}

// ForOneSQLDriver run testfn on an empty database of driver; reset drops and recreates it
func ForOneSQLDriver(t *testing.T, driver string, testfn func(t *testing.T, dbURL string, reset func())) {
	t.Run(driver, func(t *testing.T) {
		dbname := DBName(t.Name())

		if driver == "sqlite" {
			dbfile := filepath.Join(t.TempDir(), dbname+".db")
			testfn(t, "sqlite://"+dbfile, func() { os.Remove(dbfile) })
			return
		}

		server, ok := sqlServers[driver]
		require.Truef(t, ok, "unsupported driver %s", driver)

		admin, err := sql.Open(server.driver, server.adminDSN)
		require.NoError(t, err)
		t.Cleanup(func() { admin.Close() })

		reset := func() {
			_, err := admin.Exec("DROP DATABASE IF EXISTS " + dbname)
			require.NoError(t, err)
			_, err = admin.Exec("CREATE DATABASE " + dbname)
			require.NoError(t, err)
		}

		reset()
		testfn(t, fmt.Sprintf(server.urlFormat, dbname), reset)
	})
}
