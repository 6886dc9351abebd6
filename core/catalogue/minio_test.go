package catalogue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const listResult = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>audio</Name><Prefix>clips/</Prefix><KeyCount>3</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>clips/news_clip_1.mp3</Key><LastModified>2025-01-01T00:00:00.000Z</LastModified><ETag>"a"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>clips/news_real_1.wav</Key><LastModified>2025-01-01T00:00:00.000Z</LastModified><ETag>"b"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>clips/tamil/news_clip_9.mp3</Key><LastModified>2025-01-01T00:00:00.000Z</LastModified><ETag>"c"</ETag><Size>10</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

const accessDenied = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied.</Message><BucketName>audio</BucketName><Resource>/audio</Resource><RequestId>1</RequestId></Error>`

func newTestMinio(t *testing.T, h http.HandlerFunc) *minio.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4("key", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestMinioProviderScan(t *testing.T) {
	client := newTestMinio(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(listResult))
	})

	cat, err := NewMinioProvider(client, "audio", "clips").Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if cat.Size() != 3 || len(cat.General) != 2 || len(cat.ByLanguage["tamil"]) != 1 {
		t.Errorf("unexpected catalogue: general=%d tamil=%d", len(cat.General), len(cat.ByLanguage["tamil"]))
	}
}

func TestMinioProviderScanListError(t *testing.T) {
	client := newTestMinio(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(accessDenied))
	})

	_, err := NewMinioProvider(client, "audio", "clips").Scan(context.Background())
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) || resp.Code != "AccessDenied" {
		t.Fatalf("Scan() error = %v, want AccessDenied", err)
	}
}
