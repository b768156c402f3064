//go:build wasip1

// Command guest is a small wasip1 program that keeps a list of notes in a
// database owned by the sqlbridge host.
//
//	GOOS=wasip1 GOARCH=wasm go build -o notes.wasm ./example/guest
//	sqlbridge run notes.wasm "buy milk"
package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"

	_ "github.com/tomyedwab/sqlbridge/sqlproxy/driver"
	"github.com/tomyedwab/sqlbridge/wasi/guest"
)

type note struct {
	ID   int64  `db:"id"`
	Body string `db:"body"`
}

func main() {
	guest.Init()

	db, err := sqlx.Open("sqlproxy", "notes.db")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(db, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(db *sqlx.DB, bodies []string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, body := range bodies {
		if _, err := tx.Exec("INSERT INTO notes (body) VALUES (?)", body); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	var notes []note
	if err := db.Select(&notes, "SELECT id, body FROM notes ORDER BY id"); err != nil {
		return fmt.Errorf("select: %w", err)
	}
	for _, n := range notes {
		fmt.Printf("%d\t%s\n", n.ID, n.Body)
	}
	return nil
}
