package server

import (
	"context"
	"log/slog"

	"github.com/playperu/simple5k/internal/store"
)

// AdminSeeder is the slice of the store SeedAdmin needs.
type AdminSeeder interface {
	CountAdmins(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, email, password string) (store.Admin, error)
}

// SeedAdmin creates the first admin account if none exist. It does nothing
// when an admin is already present or no credentials were configured.
func SeedAdmin(ctx context.Context, logger *slog.Logger, st AdminSeeder, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	n, err := st.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := st.CreateAdmin(ctx, email, password); err != nil {
		return err
	}
	logger.Info("admin account created", "email", email)
	return nil
}
