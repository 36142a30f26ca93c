package gormx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/whitekid/goxp"
	"github.com/whitekid/goxp/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open open database
func Open(dburl string, opts ...gorm.Option) (*gorm.DB, error) {
	u, err := url.Parse(dburl)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector

	switch strings.ToLower(u.Scheme) {
	case "sqlite", "sqlite3":
		dsn := u.Host + u.Path
		log.Debugf("opening sqlite...: %s", dsn)
		dialector = sqlite.Open(dsn)

	case "my", "mysql", "mariadb":
		log.Debugf("opening mysql...")
		dialector = newMySQLDialector(u)

	case "pg", "psql", "pgsql", "postgres", "postgresql":
		log.Debugf("opening postgresql...")
		dialector = newPgDialector(u)
	}

	if dialector == nil {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	db, err := gorm.Open(dialector, opts...)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "sqlite", "sqlite3":
		if r := db.Exec("PRAGMA foreign_keys = ON"); r.Error != nil {
			return nil, r.Error
		}

		// sqlite allows single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.Use(NewValidationPlugin()); err != nil {
		return nil, err
	}

	return db, nil
}

func newMySQLDialector(u *url.URL) gorm.Dialector {
	queries := u.Query()
	params := url.Values{}
	passwd, _ := u.User.Password()

	goxp.IfThen(queries.Get("charset") != "", func() { params.Set("charset", queries.Get("charset")) })
	goxp.IfThen(queries.Get("parseTime") != "", func() { params.Set("parseTime", queries.Get("parseTime")) })
	goxp.IfThen(queries.Get("loc") != "", func() { params.Set("loc", queries.Get("loc")) })

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)%s?%s", u.User.Username(), passwd, u.Hostname(), u.Port(), u.Path, params.Encode())

	return mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         uint(queryInt(queries, "DefaultStringSize")),
		DisableDatetimePrecision:  queryBool(queries, "DisableDatetimePrecision"),
		DontSupportRenameIndex:    queryBool(queries, "DontSupportRenameIndex"),
		SkipInitializeWithVersion: queryBool(queries, "SkipInitializeWithVersion"),
	})
}

func newPgDialector(u *url.URL) gorm.Dialector {
	queries := u.Query()
	passwd, _ := u.User.Password()
	params := []string{}

	goxp.IfThen(u.Hostname() != "", func() { params = append(params, fmt.Sprintf("host=%s", u.Hostname())) })
	goxp.IfThen(u.User.Username() != "", func() { params = append(params, fmt.Sprintf("user=%s", u.User.Username())) })
	goxp.IfThen(u.Path != "", func() { params = append(params, fmt.Sprintf("database=%s", strings.TrimLeft(u.Path, "/"))) })
	goxp.IfThen(passwd != "", func() { params = append(params, fmt.Sprintf("password=%s", passwd)) })
	goxp.IfThen(u.Port() != "", func() { params = append(params, fmt.Sprintf("port=%s", u.Port())) })
	goxp.IfThen(queries.Get("sslmode") != "", func() { params = append(params, fmt.Sprintf("sslmode=%s", queries.Get("sslmode"))) })
	goxp.IfThen(queries.Get("timezone") != "", func() { params = append(params, fmt.Sprintf("TimeZone=%s", queries.Get("timezone"))) })

	dsn := strings.Join(params, " ")

	return postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: queryBool(queries, "PreferSimpleProtocol"),
		WithoutReturning:     queryBool(queries, "WithoutReturning"),
	})
}

// queryInt non negative integer dialector option of dburl, zero when absent or invalid
func queryInt(queries url.Values, key string) int {
	v, err := strconv.Atoi(queries.Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// queryBool boolean dialector option of dburl, false when absent or invalid
func queryBool(queries url.Values, key string) bool {
	v, _ := strconv.ParseBool(queries.Get(key))
	return v
}
