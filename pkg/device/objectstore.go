package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

type ObjectStoreConfig struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	Bucket          string
	Prefix          string
}

// objectClient is the subset of *minio.Client the mailbox uses.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ObjectStore is a mailbox in an S3-compatible bucket. Each delivery writes
// the document and a JSON sidecar carrying title and annotations.
type ObjectStore struct {
	config ObjectStoreConfig
	client objectClient
}

// Sidecar is the metadata object stored next to each document.
type Sidecar struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Format      string            `json:"format"`
	Size        int               `json:"size"`
	Summary     string            `json:"summary,omitempty"`
	Entities    []string          `json:"entities,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DeliveredAt time.Time         `json:"delivered_at"`
}

func NewObjectStore(config ObjectStoreConfig) (*ObjectStore, error) {
	if config.EndpointURL == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if config.AccessKeyID == "" || config.SecretAccessKey == "" {
		return nil, fmt.Errorf("object store credentials are required")
	}
	if config.Bucket == "" {
		config.Bucket = "inkdrop"
	}

	u, err := url.Parse(config.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = config.EndpointURL
	}
	useSSL := config.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: useSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &ObjectStore{config: config, client: client}, nil
}

func (s *ObjectStore) Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	doc = named(doc, dest)
	base := path.Join(s.config.Prefix, dest.Target, now.Format("2006/01/02"), strings.TrimSuffix(doc.Filename(), doc.Extension())+"-"+id[:8])
	key := base + doc.Extension()

	_, err := s.client.PutObject(ctx, s.config.Bucket, key, bytes.NewReader(doc.Data), int64(len(doc.Data)), minio.PutObjectOptions{
		ContentType:  doc.MediaType,
		UserMetadata: map[string]string{"title": doc.Title, "delivery-id": id},
	})
	if err != nil {
		return nil, classify(err)
	}

	sidecar, err := json.MarshalIndent(Sidecar{
		ID:          id,
		Title:       doc.Title,
		Format:      doc.Format,
		Size:        len(doc.Data),
		Summary:     dest.Summary,
		Entities:    dest.Entities,
		Metadata:    dest.Metadata,
		DeliveredAt: now,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.config.Bucket, base+".json", bytes.NewReader(sidecar), int64(len(sidecar)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return nil, classify(err)
	}

	return &models.DeliveryReceipt{
		ID:          id,
		Target:      "s3:" + s.config.Bucket,
		Location:    key,
		DeliveredAt: now,
	}, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return classify(err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: s.config.Region}); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps minio errors onto the delivery sentinels. Requests the
// service refused are rejections; everything else is unavailability.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	switch minio.ToErrorResponse(err).Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"EntityTooLarge", "InvalidObjectName", "InvalidBucketName", "KeyTooLongError":
		return fmt.Errorf("%w: %v", types.ErrUploadRejected, err)
	}
	return fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
}
