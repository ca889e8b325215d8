package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/sparsego/blobstore"
	miniostore "github.com/hupe1980/sparsego/blobstore/minio"
	s3store "github.com/hupe1980/sparsego/blobstore/s3"
)

// OpenStore creates the blob store described by sc.
func OpenStore(ctx context.Context, sc StoreConfig) (blobstore.BlobStore, error) {
	switch sc.Type {
	case "local":
		if sc.Path == "" {
			return nil, fmt.Errorf("store: local store requires path")
		}
		return blobstore.NewLocalStore(sc.Path), nil
	case "s3":
		if sc.Bucket == "" {
			return nil, fmt.Errorf("store: s3 store requires bucket")
		}
		if sc.Endpoint == "" && sc.AccessKey == "" {
			return s3store.New(ctx, sc.Bucket, sc.Prefix, config.WithRegion(sc.Region))
		}
		cfg, err := loadAWSConfig(ctx, sc)
		if err != nil {
			return nil, err
		}
		return s3store.NewStore(newS3Client(cfg, sc), sc.Bucket, sc.Prefix), nil
	case "s3-dynamodb":
		if sc.Bucket == "" || sc.Table == "" {
			return nil, fmt.Errorf("store: s3-dynamodb store requires bucket and table")
		}
		cfg, err := loadAWSConfig(ctx, sc)
		if err != nil {
			return nil, err
		}
		s3 := s3store.NewStore(newS3Client(cfg, sc), sc.Bucket, sc.Prefix)
		baseURI := "s3://" + strings.TrimSuffix(sc.Bucket+"/"+sc.Prefix, "/")
		return s3store.NewDDBCommitStore(s3, dynamodb.NewFromConfig(cfg), sc.Table, baseURI), nil
	case "minio":
		if sc.Endpoint == "" || sc.Bucket == "" {
			return nil, fmt.Errorf("store: minio store requires endpoint and bucket")
		}
		client, err := minio.New(sc.Endpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(sc.AccessKey, sc.SecretKey, ""),
			Secure: sc.UseSSL,
			Region: sc.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return miniostore.NewStore(client, sc.Bucket, sc.Prefix, miniostore.WithStorageClass(sc.StorageClass)), nil
	default:
		return nil, fmt.Errorf("store: unknown type %q", sc.Type)
	}
}

func loadAWSConfig(ctx context.Context, sc StoreConfig) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(sc.Region)}
	if sc.AccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKey, sc.SecretKey, ""),
		))
	}
	if sc.Endpoint != "" {
		optFns = append(optFns, config.WithBaseEndpoint(sc.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("store: load aws config: %w", err)
	}
	return cfg, nil
}

func newS3Client(cfg aws.Config, sc StoreConfig) *awss3.Client {
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		// Custom endpoints are usually S3-compatible servers without
		// virtual-host bucket addressing.
		o.UsePathStyle = sc.Endpoint != ""
	})
}
