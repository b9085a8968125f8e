package storage

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/SirClappington/orderbots/internal/storage/migrations"
)

// Migrate brings the journal schema up to date. The migrations are
// compiled in and registered with goose; the working directory must not
// hold other numbered migration files.
func Migrate(dsn string, logger *zap.Logger) (err error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	goose.SetLogger(zap.NewStdLog(logger.With(zap.String("component", "migrate"))))
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "set dialect")
	}
	if err := goose.Up(db, "."); err != nil {
		return errors.Wrap(err, "migrate")
	}
	return nil
}
