package main

import (
	"context"
	"fmt"

	"github.com/brevitylabs/dsvfs/pkg/blockcache"
	"github.com/brevitylabs/dsvfs/pkg/datastore"
	"github.com/brevitylabs/dsvfs/pkg/datastore/memcache"
	"github.com/brevitylabs/dsvfs/pkg/dsbase"
	"github.com/brevitylabs/dsvfs/pkg/filenode"
	"github.com/brevitylabs/dsvfs/pkg/lockregistry"

	"github.com/spf13/cobra"
)

// backend flag values shared by serve and the one-shot fs commands.
var backendFlag string
var dbPathFlag string
var s3BucketFlag string
var s3PrefixFlag string
var cacheCapacityFlag int

// registerBackendFlags attaches the flags buildEngine reads to any
// subcommand that needs to open the datastore (serve and the one-shot fs
// commands all call this rather than duplicating flag definitions).
func registerBackendFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&backendFlag, "backend", "sqlite", "datastore backend: sqlite or s3")
	cmd.Flags().StringVar(&dbPathFlag, "db-path", "", "sqlite database path (default: under DSVFS_HOME)")
	cmd.Flags().StringVar(&s3BucketFlag, "s3-bucket", "", "s3 bucket name (backend=s3)")
	cmd.Flags().StringVar(&s3PrefixFlag, "s3-prefix", "", "s3 key prefix (backend=s3)")
	cmd.Flags().IntVar(&cacheCapacityFlag, "cache-capacity", blockcache.DefaultCleanCapacity, "max clean blocks held in the block cache")
}

// buildEngine wires DatastoreClient, BlockCache, and LockRegistry into a
// filenode.Engine per the selected backend, the same single-setup-function
// shape main-server.go uses before serving (InitFilestore in
// pkg/filestore/blockstore_dbsetup.go).
func buildEngine(ctx context.Context) (*filenode.Engine, error) {
	var backend datastore.Client
	switch backendFlag {
	case "sqlite", "":
		path := dbPathFlag
		if path == "" {
			path = datastore.DefaultDBPath()
		}
		client, err := datastore.OpenSQLiteClient(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite datastore: %w", err)
		}
		backend = client
	case "s3":
		if s3BucketFlag == "" {
			return nil, fmt.Errorf("--s3-bucket is required for --backend=s3")
		}
		client, err := datastore.NewS3Client(ctx, s3BucketFlag, s3PrefixFlag)
		if err != nil {
			return nil, fmt.Errorf("opening s3 datastore: %w", err)
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown backend %q (want sqlite or s3)", backendFlag)
	}

	mc := memcache.New[*datastore.Entity](memcache.DefaultTTL)
	cached := datastore.NewCachedClient(backend, mc)

	if err := dsbase.EnsureHomeDir(); err != nil {
		return nil, err
	}
	locks := lockregistry.New(dsbase.GetHomeDir())
	cache := blockcache.New(cacheCapacityFlag)

	engine := filenode.NewEngine(cached, cache, locks)
	if err := engine.EnsureRoot(ctx); err != nil {
		return nil, fmt.Errorf("ensuring root: %w", err)
	}
	return engine, nil
}
