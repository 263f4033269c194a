package database

import (
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Open builds the pooled MySQL handle for the counters backend.  It does not
// ping: the service starts (and answers 503) while MySQL is down.
// callTimeout becomes the driver's dial, read and write timeout so a stalled
// server cannot hold a pooled connection forever.
func Open(user, pass, host, port, name string, callTimeout time.Duration) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.User = user
	mc.Passwd = pass
	mc.Net = "tcp"
	mc.Addr = host + ":" + port
	mc.DBName = name
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = callTimeout
	mc.ReadTimeout = callTimeout
	mc.WriteTimeout = callTimeout
	mc.Params = map[string]string{"charset": "utf8mb4"}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}
