package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/gdbrns/go-whatsapp-silva-bot/pkg/log"
)

var ErrDatastoreUnavailable = errors.New("whatsapp datastore could not be opened")

// Datastore wraps the whatsmeow device container together with how it was opened.
type Datastore struct {
	Container *sqlstore.Container
	Driver    string
	DSN       string
}

var openContainerFunc = openContainer

// OpenDatastore opens and upgrades the credential store. When a local SQLite file is corrupt
// or not a database at all, onCorrupt is called (typically deleting the file) and the open is
// retried once. Any other failure, such as a lock held by another process, is returned as is.
func OpenDatastore(ctx context.Context, driver string, dsn string, onCorrupt func() error) (*Datastore, error) {
	driver = normalizeDatastoreDriver(driver)
	dsn = normalizeDatastoreDSN(driver, dsn)

	log.Component("datastore").Info("Initializing WhatsApp datastore with driver=" + driver)

	container, err := openContainerFunc(ctx, driver, dsn)
	if err != nil && driver == "sqlite3" && onCorrupt != nil && IsCorruptStore(err) {
		log.Component("datastore").WithError(err).Warn("Credential store is corrupt, discarding it and pairing again")
		if rerr := onCorrupt(); rerr != nil {
			return nil, fmt.Errorf("%w: %v (recovery failed: %v)", ErrDatastoreUnavailable, err, rerr)
		}
		container, err = openContainerFunc(ctx, driver, dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatastoreUnavailable, err)
	}

	log.Component("datastore").Info("database is ok")
	return &Datastore{Container: container, Driver: driver, DSN: dsn}, nil
}

// IsCorruptStore reports whether err is SQLite saying the file is damaged or not a database.
func IsCorruptStore(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrCorrupt || sqliteErr.Code == sqlite3.ErrNotADB
}

func openContainer(ctx context.Context, driver string, dsn string) (*sqlstore.Container, error) {
	container, err := sqlstore.New(ctx, driver, dsn, log.WhatsMeow("Database"))
	if err != nil {
		return nil, err
	}
	if err := container.Upgrade(ctx); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("upgrade operation failed: %w", err)
	}
	// reading the device exercises the schema, so a corrupt file fails here and not mid-handshake
	if _, err := container.GetFirstDevice(ctx); err != nil {
		_ = container.Close()
		return nil, err
	}
	return container, nil
}

// Device returns the stored device, or a fresh unpaired one.
func (d *Datastore) Device(ctx context.Context) (*store.Device, error) {
	return d.Container.GetFirstDevice(ctx)
}

func (d *Datastore) Close() error {
	return d.Container.Close()
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	case "", "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}

func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}
