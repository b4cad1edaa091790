package db

import (
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var ups, downs int
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups++
		case strings.HasSuffix(name, ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected migration file %s", name)
		}
	}
	if ups == 0 || ups != downs {
		t.Errorf("embedded migrations: %d up, %d down; want matched pairs", ups, downs)
	}

	if _, err := iofs.New(migrationsFS, "migrations"); err != nil {
		t.Errorf("iofs source over embedded migrations: %v", err)
	}
}
