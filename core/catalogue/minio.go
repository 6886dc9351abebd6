package catalogue

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"LnSPoll/model"

	"github.com/minio/minio-go/v7"
)

// MinioProvider scans audio objects stored under Prefix in a bucket, with the
// same layout rules as FSProvider applied to the key below the prefix.
type MinioProvider struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioProvider 创建 MinIO 目录扫描器
func NewMinioProvider(client *minio.Client, bucket, prefix string) *MinioProvider {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &MinioProvider{client: client, bucket: bucket, prefix: prefix}
}

// Scan lists every object below the prefix.
func (p *MinioProvider) Scan(ctx context.Context) (*model.Catalogue, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b := newBuilder()
	objectCh := p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    p.prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list audio objects in %s/%s: %w", p.bucket, p.prefix, object.Err)
		}
		b.add(strings.TrimPrefix(object.Key, p.prefix))
	}
	return b.cat, nil
}

// Open streams a catalogue object. The caller closes it.
func (p *MinioProvider) Open(ctx context.Context, relPath string) (*minio.Object, minio.ObjectInfo, error) {
	if !fs.ValidPath(relPath) {
		return nil, minio.ObjectInfo{}, fs.ErrNotExist
	}
	obj, err := p.client.GetObject(ctx, p.bucket, p.prefix+relPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, minio.ObjectInfo{}, fmt.Errorf("get audio object %s: %w", relPath, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, minio.ObjectInfo{}, fmt.Errorf("stat audio object %s: %w", relPath, err)
	}
	return obj, info, nil
}
