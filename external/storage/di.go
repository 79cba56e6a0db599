package storage

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/storage"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (storage.BlobStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if !cfg.HasBlobStorage() {
			return nil, fmt.Errorf("blob storage is not configured (STORAGE_URL, STORAGE_SERVICE_KEY)")
		}
		return NewSupabaseBlobStore(cfg.StorageURL, cfg.StorageKey, cfg.StorageBucket), nil
	})
}
