// Package archive keeps a copy of every deleted file page in an
// S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/utils"
)

// objectStore is the part of *minio.Client the archiver uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Archiver uploads deletion snapshots as JSON objects
type Archiver struct {
	store  objectStore
	bucket string
	folder string
	log    zerolog.Logger
}

// New creates an archiver for the configured bucket
func New(cfg config.ArchiveConfig, log zerolog.Logger) (*Archiver, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       !cfg.Insecure,
		Transport:    tr,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	return newArchiver(client, cfg, log), nil
}

func newArchiver(store objectStore, cfg config.ArchiveConfig, log zerolog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		bucket: cfg.Bucket,
		folder: strings.Trim(cfg.Folder, "/"),
		log:    log,
	}
}

// Check fails when the bucket is missing or unreachable.
func (a *Archiver) Check(ctx context.Context) error {
	ok, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", a.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", a.bucket)
	}
	return nil
}

// Archive uploads snap. The object key is derived from the deletion date
// and the page title, so archiving the same deletion twice overwrites.
func (a *Archiver) Archive(ctx context.Context, snap models.DeletionSnapshot) error {
	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot of %s: %w", snap.Title, err)
	}

	key := a.objectKey(snap)
	info, err := a.store.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"title":  url.QueryEscape(snap.Title),
			"remote": url.QueryEscape(snap.RemoteTitle),
		},
	})
	if err != nil {
		if minioErr, ok := err.(minio.ErrorResponse); ok {
			return fmt.Errorf("failed to upload %s: %s (%s)", key, minioErr.Message, minioErr.Code)
		}
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.log.Info().
		Str("title", snap.Title).
		Str("object", a.bucket+"/"+key).
		Str("size", utils.FormatSize(info.Size)).
		Msg("archived")
	return nil
}

func (a *Archiver) objectKey(snap models.DeletionSnapshot) string {
	at := snap.DeletedAt
	if at.IsZero() {
		at = time.Now()
	}
	key := at.UTC().Format("2006/01/02") + "/" + sanitizePath(strings.ReplaceAll(snap.Title, " ", "_")) + ".json"
	if a.folder != "" {
		key = a.folder + "/" + key
	}
	return key
}

// sanitizePath escapes each segment of path so it is safe as an object key.
func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		// decode first in case the segment is already encoded
		decoded, err := url.QueryUnescape(segment)
		if err == nil {
			segment = decoded
		}

		segment = strings.ReplaceAll(segment, "&", "and")
		segment = strings.ReplaceAll(segment, "+", "plus")

		segments[i] = url.QueryEscape(segment)
	}

	sanitized := strings.Join(segments, "/")
	for strings.Contains(sanitized, "//") {
		sanitized = strings.ReplaceAll(sanitized, "//", "/")
	}

	return sanitized
}
