// Package db selects the concrete store driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/vocalis-ai/vocalis/internal/profile"
	"github.com/vocalis-ai/vocalis/store"
	"github.com/vocalis-ai/vocalis/store/db/postgres"
	"github.com/vocalis-ai/vocalis/store/db/sqlite"
)

// NewDBDriver creates the database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
