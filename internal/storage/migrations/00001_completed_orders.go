package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(upCompletedOrders, downCompletedOrders)
}

func upCompletedOrders(tx *sql.Tx) error {
	_, err := tx.Exec(`create table if not exists completed_orders (
  id           uuid primary key,
  run_id       text not null,
  order_id     bigint not null,
  class        text not null,
  bot_id       bigint not null,
  created_at   timestamptz not null,
  completed_at timestamptz not null,
  unique (run_id, order_id)
)`)
	return err
}

func downCompletedOrders(tx *sql.Tx) error {
	_, err := tx.Exec(`drop table if exists completed_orders`)
	return err
}
