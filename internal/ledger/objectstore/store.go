package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	contentType   = "application/json"
	noSuchKeyCode = "NoSuchKey"
)

// Store keeps each ledger entry as an object <prefix>/<network>/<module>.json.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to the object storage endpoint described by cfg.
func New(cfg configs.S3) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.Named("ledger_object_store"),
	}, nil
}

// EnsureBucket creates the ledger bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket '%s': %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	s.logger.With("bucket", s.bucket).Info("creating ledger bucket")
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket '%s': %w", s.bucket, err)
	}

	return nil
}

// ObjectKey returns the object name holding key.
func (s *Store) ObjectKey(key ledger.Key) string {
	return path.Join(s.prefix, key.NetworkID, key.Module+".json")
}

func (s *Store) Load(ctx context.Context, key ledger.Key) (*ledger.Entry, error) {
	objectKey := s.ObjectKey(key)

	object, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s': %w", objectKey, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if minio.ToErrorResponse(err).Code == noSuchKeyCode {
			return ledger.NewEntry(), nil
		}
		return nil, fmt.Errorf("failed to read object '%s': %w", objectKey, err)
	}

	entry := ledger.NewEntry()
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object '%s': %w", objectKey, err)
	}
	if entry.Elements == nil {
		entry.Elements = make(map[string]*ledger.Record)
	}

	return entry, nil
}

func (s *Store) Save(ctx context.Context, key ledger.Key, entry *ledger.Entry) error {
	objectKey := s.ObjectKey(key)

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object '%s': %w", objectKey, err)
	}

	s.logger.With("object", objectKey).Debug("ledger object written")

	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
