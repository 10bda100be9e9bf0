package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// SnapshotArchive keeps a copy of every canonical generation snapshot,
// addressed by its checksum.
type SnapshotArchive interface {
	Put(ctx context.Context, checksum string, canonical []byte) error
}

// GCSSnapshotArchive writes snapshots to generations/<checksum>.json. Objects
// are content addressed, so an existing object is left untouched.
type GCSSnapshotArchive struct {
	Client *storage.Client
	Bucket string
}

func NewGCSSnapshotArchive(client *storage.Client, bucket string) *GCSSnapshotArchive {
	return &GCSSnapshotArchive{Client: client, Bucket: bucket}
}

func SnapshotObjectName(checksum string) string {
	return "generations/" + checksum + ".json"
}

func (a *GCSSnapshotArchive) Put(ctx context.Context, checksum string, canonical []byte) error {
	if a.Client == nil || a.Bucket == "" {
		return errors.New("gcs snapshot archive not configured")
	}
	obj := a.Client.Bucket(a.Bucket).Object(SnapshotObjectName(checksum)).If(storage.Conditions{DoesNotExist: true})
	wc := obj.NewWriter(ctx)
	wc.ContentType = "application/json"
	wc.Metadata = map[string]string{"sha256": checksum}
	if _, err := wc.Write(canonical); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write snapshot %s: %w", checksum, err)
	}
	if err := wc.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return nil
		}
		return fmt.Errorf("close snapshot %s: %w", checksum, err)
	}
	return nil
}
