package main

import (
	"database/sql"
	"fmt"

	"github.com/quietcut/quietcut/internal/bootstrap"
)

// connectDB wires up the database connection shared by all admin commands.
// Admin commands never need Redis; the rate limiter only matters to workers.
func connectDB(ctx *commandContext) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: ctx.Config.Postgres,
		Logger:   ctx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

func closeDB(ctx *commandContext, db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		ctx.Logger.ErrorContext(ctx.Ctx, "close database failed", "error", err)
	}
}
