package stores

import (
	"context"
	"fmt"

	"roomhub-server/config"
	"roomhub-server/core"
	"roomhub-server/stores/aws"
	"roomhub-server/stores/filesystem"
	"roomhub-server/stores/memory"
	"roomhub-server/stores/postgres"
	"roomhub-server/stores/redis"
	"roomhub-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore builds the snapshot store selected by cfg.StorageType.
func GetStore(ctx context.Context, cfg *config.Config) (core.SnapshotStore, error) {
	var (
		store core.SnapshotStore
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store, err = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "s3":
		storageField["bucketName"] = cfg.S3BucketName
		storageField["prefix"] = cfg.S3Prefix
		store, err = aws.NewStore(ctx, cfg.S3BucketName, cfg.S3Prefix)
	case "redis":
		storageField["ttl"] = cfg.RedisTTL
		store, err = redis.NewStore(ctx, cfg.RedisURL, cfg.RedisTTL)
	case "postgres":
		store, err = postgres.NewStore(ctx, cfg.DatabaseURL)
	case "", "memory":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.StorageType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageType, err)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
