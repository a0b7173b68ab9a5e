package whatsapp

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/credentials"
	"github.com/gdbrns/go-whatsapp-echo-bot/pkg/log"
)

// OpenDatastore opens the library key store and upgrades its schema.
func OpenDatastore(ctx context.Context, driver string, dsn string) (*sqlstore.Container, error) {
	normalizedDriver := normalizeDatastoreDriver(driver)
	dsn = normalizeDatastoreDSN(normalizedDriver, dsn)

	log.Print(nil).Info("Initializing WhatsApp datastore with driver=" + normalizedDriver)

	container, err := sqlstore.New(ctx, normalizedDriver, dsn, log.WA("Database"))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp datastore: %w", err)
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade operation failed: %w", err)
	}

	log.Print(nil).Info("database is ok")
	return container, nil
}

// postgres stays on lib/pq; postgresql and pgx select the pgx stdlib driver.
func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgresql", "pgx":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(strings.TrimSpace(driver))
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
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

// deviceForBundle returns the key store device for the bundle's JID,
// importing the bundle first when the store does not know it yet.
func deviceForBundle(ctx context.Context, container *sqlstore.Container, bundle *credentials.Bundle) (*store.Device, error) {
	jid, err := types.ParseJID(bundle.JID)
	if err != nil {
		return nil, fmt.Errorf("parse bundle jid: %w", err)
	}

	device, err := container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("load device from datastore: %w", err)
	}
	if device != nil {
		return device, nil
	}

	device = container.NewDevice()
	if err := ApplyBundle(device, bundle); err != nil {
		return nil, err
	}
	if err := container.PutDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("import credential bundle: %w", err)
	}

	log.Session(bundle.JID, "import").Info("Imported credential bundle into datastore")
	return device, nil
}
