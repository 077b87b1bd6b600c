package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/internal/cache"
)

// Datasource is the Postgres backed OrderStore.
type Datasource struct {
	Conn *sql.DB
	now  func() time.Time
}

// NewDataSource picks the order store for the configuration: Postgres when a
// data source DNS is set, the in-memory store otherwise. When c is non-nil,
// reads go through it.
func NewDataSource(configuration *config.Configuration, c cache.Cache) (OrderStore, func() error, error) {
	var store OrderStore
	closer := func() error { return nil }

	if configuration.DataSource.Dns == "" {
		logrus.Warn("no data source configured, orders are kept in memory")
		store = NewMemoryStore()
	} else {
		con, err := ConnectDB(configuration.DataSource.Dns)
		if err != nil {
			return nil, nil, err
		}
		store = NewPostgresStore(con)
		closer = con.Close
	}

	if c != nil {
		store = NewCachedStore(store, c, time.Duration(configuration.Cache.TTLSec)*time.Second)
	}
	return store, closer, nil
}

// NewPostgresStore wraps an open connection.
func NewPostgresStore(conn *sql.DB) *Datasource {
	return &Datasource{Conn: conn, now: time.Now}
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		logrus.Errorf("database Connection error ❌: %v", err)
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
