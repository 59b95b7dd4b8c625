// Package db dispatches the configured database driver.
package db

import (
	"github.com/pkg/errors"

	"github.com/openassist/actionflow/internal/profile"
	"github.com/openassist/actionflow/store"
	"github.com/openassist/actionflow/store/db/postgres"
	"github.com/openassist/actionflow/store/db/sqlite"
)

// NewDBDriver creates the driver named by the profile. Supported drivers are
// "sqlite" (development, no vector search) and "postgres".
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
}
