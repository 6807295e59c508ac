package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/dservsys/geolimes/internal/storage"
)

// ReconciliationReport contains the results of a manifest-storage reconciliation.
type ReconciliationReport struct {
	// DanglingEntries are manifest records whose artifact does not exist in storage.
	DanglingEntries []DanglingEntry `json:"dangling_entries"`
	// OrphanedObjects are storage objects with no corresponding manifest record.
	// Artifacts written by older tooling show up here and still load.
	OrphanedObjects []string `json:"orphaned_objects"`
	// TotalManifestEntries is the number of entries checked.
	TotalManifestEntries int `json:"total_manifest_entries"`
	// TotalStorageObjects is the number of storage objects scanned.
	TotalStorageObjects int `json:"total_storage_objects"`
	// RunAt is when the reconciliation was performed.
	RunAt time.Time `json:"run_at"`
}

// DanglingEntry represents a manifest record pointing to a missing artifact.
type DanglingEntry struct {
	Fingerprint string `json:"fingerprint"`
	ObjectPath  string `json:"object_path"`
}

// HasIssues returns true if the report contains any dangling entries or orphaned objects.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingEntries) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks consistency between the manifest catalog and object storage.
func Reconcile(ctx context.Context, catalog Catalog, store storage.ObjectStorage, storagePrefix string) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		RunAt: time.Now(),
	}

	entries, err := catalog.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list manifest entries: %w", err)
	}
	report.TotalManifestEntries = len(entries)

	tracked := make(map[string]string, len(entries)) // object_path -> fingerprint
	for _, e := range entries {
		tracked[e.ObjectPath] = e.Fingerprint
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		exists, err := store.Exists(ctx, e.ObjectPath)
		if err != nil {
			return nil, fmt.Errorf("reconciliation: failed to check object %s: %w", e.ObjectPath, err)
		}
		if !exists {
			report.DanglingEntries = append(report.DanglingEntries, DanglingEntry{
				Fingerprint: e.Fingerprint,
				ObjectPath:  e.ObjectPath,
			})
		}
	}

	objects, err := store.ListObjects(ctx, storagePrefix)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: failed to list storage objects: %w", err)
	}
	report.TotalStorageObjects = len(objects)

	for _, objPath := range objects {
		if _, ok := tracked[objPath]; !ok {
			report.OrphanedObjects = append(report.OrphanedObjects, objPath)
		}
	}

	return report, nil
}
