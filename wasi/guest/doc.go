// Package guest connects the sqlproxy database/sql driver to the sqlbridge
// host when running as a wasip1 module under wazero.
//
// Call Init before opening a database:
//
//	guest.Init()
//	db, err := sql.Open("sqlproxy", "app.db")
//
// The package exports alloc_bytes and free_bytes, which the host uses to hand
// responses back to the guest. It only builds for GOOS=wasip1.
package guest
