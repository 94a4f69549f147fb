package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure in an idempotent workflow.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte, contentType string) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "object", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "object", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "object", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "object", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// DownloadObject streams a GCS object into a local file.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to create reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", destPath, err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, rc); err != nil {
		return fmt.Errorf("failed to download gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// ParseGCSURI splits "gs://bucket/path/to/object" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("GCS URI %q must name a bucket and an object", uri)
	}
	return bucket, object, nil
}

// GCSAssetStore stores question crops under assets/{docID}/ in one bucket.
type GCSAssetStore struct {
	client *storage.Client
	bucket string
}

func NewGCSAssetStore(client *storage.Client, bucket string) *GCSAssetStore {
	return &GCSAssetStore{client: client, bucket: bucket}
}

// ForDocument returns the asset store of one document.
func (s *GCSAssetStore) ForDocument(docID string) *DocumentAssets {
	return &DocumentAssets{bucket: s.client.Bucket(s.bucket), bucketName: s.bucket, docID: docID}
}

// List returns the gs:// paths of every stored asset of a document.
func (s *GCSAssetStore) List(ctx context.Context, docID string) ([]string, error) {
	var out []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: AssetPrefix(docID)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list assets of %s: %w", docID, err)
		}
		out = append(out, fmt.Sprintf("gs://%s/%s", s.bucket, attrs.Name))
	}
	return out, nil
}

// AssetPrefix is the object prefix of a document's assets.
func AssetPrefix(docID string) string {
	return fmt.Sprintf("assets/%s/", docID)
}

// AssetObjectName is the object name of one asset, for example "assets/doc/q0007_choice_3.jpg".
// A reservation without data gets the "pending" extension.
func AssetObjectName(docID string, key models.AssetKey, contentType string) string {
	return AssetPrefix(docID) + key.Name() + "." + extension(contentType)
}

func extension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "":
		return "pending"
	}
	return "bin"
}

// DocumentAssets writes the assets of one document.
type DocumentAssets struct {
	bucket     *storage.BucketHandle
	bucketName string
	docID      string
}

// Put writes the asset with the atomic-create write and returns its gs:// path.
func (d *DocumentAssets) Put(ctx context.Context, key models.AssetKey, data []byte, contentType string) (string, error) {
	name := AssetObjectName(d.docID, key, contentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := SaveToGCSAtomically(ctx, d.bucket, name, data, contentType); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", d.bucketName, name), nil
}

// PackageObjectName is where the result package of a document is archived.
func PackageObjectName(docID string) string {
	return fmt.Sprintf("packages/%s.json", docID)
}

// SavePackage archives the result package as JSON and returns its gs:// path.
func SavePackage(ctx context.Context, client *storage.Client, bucket string, pkg *models.ResultPackage) (string, error) {
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result package: %w", err)
	}
	name := PackageObjectName(pkg.DocumentID)
	if err := SaveToGCSAtomically(ctx, client.Bucket(bucket), name, data, "application/json"); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", bucket, name), nil
}
