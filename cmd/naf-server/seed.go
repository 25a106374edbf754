package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sipico/netcup-api-filter/internal/auth"
	"github.com/sipico/netcup-api-filter/internal/backend"
	"github.com/sipico/netcup-api-filter/internal/config"
	"github.com/sipico/netcup-api-filter/internal/realm"
	"github.com/sipico/netcup-api-filter/internal/storage"
)

type seedStore interface {
	GetBackendServiceByName(ctx context.Context, name string) (*storage.BackendService, error)
	CreateBackendService(ctx context.Context, svc *storage.BackendService) (*storage.BackendService, error)
	GetDomainRootByZone(ctx context.Context, zone string) (*storage.DomainRoot, error)
	CreateDomainRoot(ctx context.Context, root *storage.DomainRoot) (*storage.DomainRoot, error)
}

// applySeed creates the backend services and domain roots of the seed that
// do not exist yet. Existing entries are left alone; credentials of a stored
// backend change only through the admin API.
func applySeed(ctx context.Context, store seedStore, seed *config.Seed, logger *slog.Logger) error {
	for _, b := range seed.Backends {
		svc, err := store.GetBackendServiceByName(ctx, b.Name)
		if errors.Is(err, storage.ErrNotFound) {
			provider := strings.ToLower(b.Provider)
			if !slices.Contains(backend.Kinds(), provider) {
				return fmt.Errorf("backend %q: %w: %s", b.Name, backend.ErrUnknownKind, b.Provider)
			}
			svc, err = store.CreateBackendService(ctx, &storage.BackendService{
				Name:     b.Name,
				Provider: provider,
				Settings: b.Settings,
			})
			if err == nil {
				logger.Info("seeded backend service", "backend_id", svc.ID, "name", svc.Name, "provider", svc.Provider)
			}
		}
		if err != nil {
			return fmt.Errorf("backend %q: %w", b.Name, err)
		}

		for _, r := range b.Roots {
			if err := seedRoot(ctx, store, svc, r, logger); err != nil {
				return err
			}
		}
	}
	return nil
}

func seedRoot(ctx context.Context, store seedStore, svc *storage.BackendService, r config.SeedRoot, logger *slog.Logger) error {
	zone, err := realm.Normalize(r.Zone)
	if err != nil {
		return fmt.Errorf("backend %q: zone %q: %w", svc.Name, r.Zone, err)
	}
	if _, err := store.GetDomainRootByZone(ctx, zone); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("zone %q: %w", zone, err)
	}

	scope := auth.Scope{Operations: r.AllowedOperations, RecordTypes: r.AllowedRecordTypes}
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("zone %q: %w", zone, err)
	}
	visibility := r.Visibility
	if visibility == "" {
		visibility = storage.VisibilityPublic
	}

	root, err := store.CreateDomainRoot(ctx, &storage.DomainRoot{
		Zone:               zone,
		BackendServiceID:   svc.ID,
		Visibility:         visibility,
		MaxSubdomainDepth:  r.MaxSubdomainDepth,
		AllowedRecordTypes: r.AllowedRecordTypes,
		AllowedOperations:  r.AllowedOperations,
	})
	if err != nil {
		return fmt.Errorf("zone %q: %w", zone, err)
	}
	logger.Info("seeded domain root", "root_id", root.ID, "zone", root.Zone, "backend_id", svc.ID)
	return nil
}
