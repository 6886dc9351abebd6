package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"LnSPoll/config"
	"LnSPoll/model"

	"github.com/minio/minio-go/v7"
)

// ObjectStore writes each response as its own JSON object. Keys start with the
// submission time so listing order is chronological.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore uses an already connected client.
func NewObjectStore(client *minio.Client, bucket, prefix string) *ObjectStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix}
}

// OpenObjectStore connects to MinIO with the configured credentials.
func OpenObjectStore(ctx context.Context, cfg *config.Config) (*ObjectStore, error) {
	client, err := NewMinioClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewObjectStore(client, cfg.MinioBucket, cfg.MinioRespPrefix), nil
}

func (s *ObjectStore) Name() string { return "minio" }

func (s *ObjectStore) Close() error { return nil }

// ObjectKey returns the key a response is stored under.
func (s *ObjectStore) ObjectKey(r *model.Response) string {
	return fmt.Sprintf("%s%s_%s.json", s.prefix, r.SubmittedAt.UTC().Format("20060102T150405.000Z"), r.ParticipantID)
}

func (s *ObjectStore) Save(ctx context.Context, resp *model.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	key := s.ObjectKey(resp)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) listKeys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %s: %w", s.prefix, object.Err)
		}
		if strings.HasSuffix(object.Key, ".json") {
			keys = append(keys, object.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *ObjectStore) LoadAll(ctx context.Context) ([]*model.Response, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Response, 0, len(keys))
	for _, key := range keys {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("get object %s: %w", key, err)
		}
		var r model.Response
		err = json.NewDecoder(obj).Decode(&r)
		obj.Close()
		if err != nil {
			return nil, fmt.Errorf("decode object %s: %w", key, err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *ObjectStore) Count(ctx context.Context) (int, error) {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteAll 删除前缀下的所有响应对象
func (s *ObjectStore) DeleteAll(ctx context.Context) error {
	keys, err := s.listKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(keys))
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			objectsCh <- minio.ObjectInfo{Key: key}
		}
	}()

	// 读完整个结果通道，只返回第一个错误
	var firstErr error
	for rErr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete object %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return firstErr
}
