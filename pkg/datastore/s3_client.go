package datastore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/brevitylabs/dsvfs/pkg/dsfault"
	"github.com/brevitylabs/dsvfs/pkg/util/logutil"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3Client is the alternate Client backend for deployments with no local
// disk to host a SQLite file: every entity becomes one S3 object, its
// properties JSON-encoded in the object body. It exercises the same
// batching code (SplitForPut / SplitForGet / SplitForDelete) the SQLite
// backend uses, since the platform bulk limits are a property of the
// engine's own façade, not of a specific backend.
type S3Client struct {
	api    *s3.Client
	bucket string
	prefix string
}

func NewS3Client(ctx context.Context, bucket string, prefix string) (*S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3Client{api: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

type s3Payload struct {
	Properties map[string]any `json:"properties"`
}

func sanitizeKeyComponent(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}

// objectKey maps a datastore Key onto an S3 object key. Node and block
// keys live under distinct prefixes so a parent's block listing (used by
// DeleteByParent) never collides with node keys or with blocks of a
// different file sharing a sanitized name.
func (c *S3Client) objectKey(key Key) string {
	var raw string
	if key.Parent != nil {
		raw = "block/" + sanitizeKeyComponent(key.Parent.Name) + "/" + sanitizeKeyComponent(key.Name)
	} else {
		raw = "node/" + sanitizeKeyComponent(key.Name)
	}
	if c.prefix == "" {
		return raw
	}
	return c.prefix + "/" + raw
}

func (c *S3Client) blockListPrefix(parent Key) string {
	raw := "block/" + sanitizeKeyComponent(parent.Name) + "/"
	if c.prefix == "" {
		return raw
	}
	return c.prefix + "/" + raw
}

func (c *S3Client) Get(ctx context.Context, key Key) (*Entity, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, NotFound(key)
		}
		return nil, dsfault.Wrap(dsfault.Io, err, "s3 get")
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, dsfault.Wrap(dsfault.Io, err, "s3 read body")
	}
	var payload s3Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, dsfault.Wrap(dsfault.Io, err, "s3 decode entity")
	}
	return &Entity{Key: key, Properties: decodeS3Properties(payload.Properties)}, nil
}

// decodeS3Properties fixes up the []byte data property, which round
// trips through JSON as a base64 string and a float64-typed block-size,
// which round trips as float64 rather than int.
func decodeS3Properties(props map[string]any) map[string]any {
	if v, ok := props["data"]; ok {
		if s, ok := v.(string); ok {
			if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
				props["data"] = decoded
			}
		}
	}
	for _, name := range []string{"block-size", "last-modified", "content-size"} {
		if v, ok := props[name]; ok {
			if f, ok := v.(float64); ok {
				props[name] = int64(f)
			}
		}
	}
	return props
}

func (c *S3Client) GetMulti(ctx context.Context, keys []Key) (map[string]*Entity, error) {
	rtn := make(map[string]*Entity, len(keys))
	for _, batch := range SplitForGet(keys) {
		for _, k := range batch {
			ent, err := c.Get(ctx, k)
			if err != nil {
				if dsfault.Is(err, dsfault.NoSuchFile) {
					continue
				}
				return nil, err
			}
			rtn[k.String()] = ent
		}
	}
	return rtn, nil
}

func (c *S3Client) putOne(ctx context.Context, entity *Entity) error {
	payload := s3Payload{Properties: entity.Properties}
	body, err := json.Marshal(payload)
	if err != nil {
		return dsfault.Wrap(dsfault.Io, err, "s3 encode entity")
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(entity.Key)),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return dsfault.Wrap(dsfault.Io, err, "s3 put")
	}
	return nil
}

func (c *S3Client) Put(ctx context.Context, entity *Entity) error {
	return c.putOne(ctx, entity)
}

func (c *S3Client) PutMulti(ctx context.Context, entities []*Entity) error {
	for _, batch := range SplitForPut(entities, SizeHint) {
		for _, e := range batch {
			if err := c.putOne(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *S3Client) Delete(ctx context.Context, key Key) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		return dsfault.Wrap(dsfault.Io, err, "s3 delete")
	}
	return nil
}

func (c *S3Client) DeleteMulti(ctx context.Context, keys []Key) error {
	for _, batch := range SplitForDelete(keys) {
		var objIds []s3types.ObjectIdentifier
		for _, k := range batch {
			objIds = append(objIds, s3types.ObjectIdentifier{Key: aws.String(c.objectKey(k))})
		}
		_, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &s3types.Delete{Objects: objIds},
		})
		if err != nil {
			return dsfault.Wrap(dsfault.Io, err, "s3 delete many")
		}
	}
	return nil
}

func (c *S3Client) DeleteByParent(ctx context.Context, parent Key) error {
	listPrefix := c.blockListPrefix(parent)
	var keys []Key
	var continuationToken *string
	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return dsfault.Wrap(dsfault.Io, err, "s3 list by parent")
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			parentCopy := parent
			keys = append(keys, Key{Kind: NodeKind, Name: name, Parent: &parentCopy})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}
	return c.DeleteMulti(ctx, keys)
}

// BeginTx approximates write-through by buffering operations and applying
// them in order on Commit; S3 has no native multi-object transaction, so
// unlike the SQLite backend this offers no atomicity guarantee across
// objects -- only ordering and all-or-nothing application up to the first
// failure, which the flush path in pkg/blockio already tolerates: a
// failed bulk put mid-flush leaves later blocks dirty for retry.
func (c *S3Client) BeginTx(ctx context.Context) (Tx, error) {
	return &s3Tx{ctx: ctx, client: c, txID: uuid.NewString()}, nil
}

type s3Op struct {
	put    *Entity
	delete *Key
}

type s3Tx struct {
	ctx    context.Context
	client *S3Client
	txID   string
	ops    []s3Op
}

func (t *s3Tx) Put(entity *Entity) error {
	t.ops = append(t.ops, s3Op{put: entity})
	return nil
}

func (t *s3Tx) PutMulti(entities []*Entity) error {
	for _, e := range entities {
		t.ops = append(t.ops, s3Op{put: e})
	}
	return nil
}

func (t *s3Tx) Delete(key Key) error {
	k := key
	t.ops = append(t.ops, s3Op{delete: &k})
	return nil
}

func (t *s3Tx) DeleteMulti(keys []Key) error {
	for _, k := range keys {
		kk := k
		t.ops = append(t.ops, s3Op{delete: &kk})
	}
	return nil
}

func (t *s3Tx) Commit() error {
	logutil.DevPrintf("[datastore] s3 tx %s committing %d ops\n", t.txID, len(t.ops))
	for _, op := range t.ops {
		if op.put != nil {
			if err := t.client.putOne(t.ctx, op.put); err != nil {
				return err
			}
		} else if op.delete != nil {
			if err := t.client.Delete(t.ctx, *op.delete); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *s3Tx) Rollback() error {
	t.ops = nil
	return nil
}
