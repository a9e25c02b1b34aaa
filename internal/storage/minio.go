package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pdfdispatch/internal/config"
	"pdfdispatch/internal/document"
	"pdfdispatch/internal/pdf"
)

// ErrBucketMissing is returned by NewClient when the bucket is absent and
// auto creation is disabled.
var ErrBucketMissing = errors.New("bucket does not exist")

// DefaultPresignTTL applies when a caller passes a non-positive ttl.
const DefaultPresignTTL = time.Hour

// objectAPI is the subset of *minio.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// Client 封装 S3 兼容存储，负责写入产物并签发限时下载链接。
// 内部客户端用于写入，公共客户端只用于签名，签出的链接指向对外地址。
type Client struct {
	internalClient objectAPI
	publicClient   objectAPI
	bucketName     string
	keyPrefix      string
	presignTTL     time.Duration
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// NewClient 根据配置初始化存储客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.StorageConfig) (*Client, error) {
	bucketLookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}

	internalClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init internal storage client: %w", err)
	}

	publicClient, err := newPublicClient(cfg, bucketLookup)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := internalClient.BucketExists(ctx, cfg.Bucket)
	if err != nil && !IsNoSuchBucket(err) {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q (auto create disabled): %w", cfg.Bucket, ErrBucketMissing)
		}
		if err := internalClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
		}
	}

	return newClient(internalClient, publicClient, cfg.Bucket, cfg.KeyPrefix, cfg.PresignTTL), nil
}

// NewPresigner builds a signing-only client. It performs no network calls,
// so the region must be configured.
func NewPresigner(cfg config.StorageConfig) (*Client, error) {
	bucketLookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("storage region is required for offline signing")
	}
	publicClient, err := newPublicClient(cfg, bucketLookup)
	if err != nil {
		return nil, err
	}
	return newClient(publicClient, publicClient, cfg.Bucket, cfg.KeyPrefix, cfg.PresignTTL), nil
}

func newClient(internalClient, publicClient objectAPI, bucket, prefix string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		bucketName:     bucket,
		keyPrefix:      prefix,
		presignTTL:     ttl,
	}
}

func newPublicClient(cfg config.StorageConfig, bucketLookup minio.BucketLookupType) (*minio.Client, error) {
	parsedPublicEndpoint, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse storage public endpoint: %w", err)
	}

	publicHost := parsedPublicEndpoint.Host
	if publicHost == "" {
		return nil, fmt.Errorf("invalid storage public endpoint, host missing")
	}

	publicClient, err := minio.New(publicHost, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       parsedPublicEndpoint.Scheme == "https",
		Region:       cfg.Region,
		BucketLookup: bucketLookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init public storage client: %w", err)
	}
	return publicClient, nil
}

func parseBucketLookup(raw string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	default:
		return minio.BucketLookupAuto, fmt.Errorf("invalid storage bucket lookup %q", raw)
	}
}

// Bucket returns the bucket artifacts are written to.
func (c *Client) Bucket() string {
	return c.bucketName
}

// NewKey returns prefix/<uuid><ext>. Keys rely on UUIDv4 randomness rather
// than an existence check before write.
func NewKey(prefix, ext string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return uuid.NewString() + ext
	}
	return prefix + "/" + uuid.NewString() + ext
}

// Publish 将产物一次性写入私有 Bucket，返回新分配的对象键。
func (c *Client) Publish(ctx context.Context, artifact pdf.Artifact) (string, error) {
	key := NewKey(c.keyPrefix, pdf.Extension)
	contentType := artifact.ContentType
	if contentType == "" {
		contentType = pdf.ContentType
	}

	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := c.internalClient.PutObject(ctx, c.bucketName, key, bytes.NewReader(artifact.Body), artifact.Size(), opts); err != nil {
		return "", document.StorageError("put object", fmt.Errorf("put object %q: %w", key, err))
	}
	return key, nil
}

// Presign 生成对象的限时下载链接，持有链接即可访问，无需写入凭证。
func (c *Client) Presign(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.presignTTL
	}
	presignedURL, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, ttl, nil)
	if err != nil {
		return "", document.StorageError("presign", fmt.Errorf("generate presigned url for %q: %w", objectKey, err))
	}
	return presignedURL.String(), nil
}

// Stat 读取对象元数据；对象不存在时返回的错误满足 IsNoSuchKey。
func (c *Client) Stat(ctx context.Context, objectKey string) (ObjectMeta, error) {
	info, err := c.internalClient.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	return ObjectMeta{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// ListObjects 列出指定前缀下的对象元数据。
func (c *Client) ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	if prefix == "" {
		prefix = c.keyPrefix + "/"
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objCh := c.internalClient.ListObjects(ctx, c.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	result := make([]ObjectMeta, 0, limit)
	for object := range objCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		result = append(result, ObjectMeta{
			Key:          object.Key,
			Size:         object.Size,
			ContentType:  object.ContentType,
			LastModified: object.LastModified,
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
