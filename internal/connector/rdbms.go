package connector

import (
	"context"
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// Relational sources are validated at creation time but have no sync
// connector; the connector set covers object storage, file shares and
// collaboration suites.

func probeRDBMS(ctx context.Context, params map[string]string) error {
	db, err := sql.Open(params["engine"], params["endpoint"])
	if err != nil {
		return errors.Wrapf(err, "open %s connection", params["engine"])
	}
	defer db.Close()
	return db.PingContext(ctx)
}
