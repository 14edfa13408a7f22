package archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honjitsu-Seiten/SeitenBot2/internal/config"
	"github.com/Honjitsu-Seiten/SeitenBot2/pkg/models"
)

type putCall struct {
	bucket, key string
	body        []byte
	opts        minio.PutObjectOptions
}

type fakeStore struct {
	exists bool
	err    error
	puts   []putCall
}

func (f *fakeStore) BucketExists(context.Context, string) (bool, error) {
	return f.exists, f.err
}

func (f *fakeStore) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.puts = append(f.puts, putCall{bucket: bucket, key: object, body: body, opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestArchiveUploadsSnapshot(t *testing.T) {
	store := &fakeStore{}
	a := newArchiver(store, config.ArchiveConfig{Bucket: "deleted", Folder: "/sdfile/"}, zerolog.Nop())

	snap := models.DeletionSnapshot{
		Title:       "ファイル:Foo bar.jpg",
		RemoteTitle: "File:Foo bar.jpg",
		Reason:      "Bot: [[WP:CSD#ファイル1-5]] [[c:File:Foo bar.jpg]]へ移行",
		Text:        "{{即時削除/ファイル1-5|Foo bar.jpg}}",
		Revisions:   []models.Revision{{ID: 1, User: "Uploader"}},
		DeletedAt:   time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC),
	}
	require.NoError(t, a.Archive(context.Background(), snap))

	require.Len(t, store.puts, 1)
	put := store.puts[0]
	assert.Equal(t, "deleted", put.bucket)
	assert.Equal(t, "sdfile/2024/03/01/%E3%83%95%E3%82%A1%E3%82%A4%E3%83%AB%3AFoo_bar.jpg.json", put.key)
	assert.Equal(t, "application/json", put.opts.ContentType)
	assert.Equal(t, "%E3%83%95%E3%82%A1%E3%82%A4%E3%83%AB%3AFoo+bar.jpg", put.opts.UserMetadata["title"])

	var decoded models.DeletionSnapshot
	require.NoError(t, json.Unmarshal(put.body, &decoded))
	assert.Equal(t, snap.Text, decoded.Text)
	assert.Equal(t, snap.Revisions, decoded.Revisions)
	assert.True(t, snap.DeletedAt.Equal(decoded.DeletedAt))
}

func TestArchiveReportsUploadFailure(t *testing.T) {
	store := &fakeStore{err: minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}}
	a := newArchiver(store, config.ArchiveConfig{Bucket: "deleted"}, zerolog.Nop())

	err := a.Archive(context.Background(), models.DeletionSnapshot{Title: "ファイル:Foo.jpg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		store   *fakeStore
		wantErr bool
	}{
		{"bucket exists", &fakeStore{exists: true}, false},
		{"bucket missing", &fakeStore{}, true},
		{"unreachable", &fakeStore{err: errors.New("dial tcp: refused")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newArchiver(tt.store, config.ArchiveConfig{Bucket: "deleted"}, zerolog.Nop())
			err := a.Check(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal path",
			input:    "path/to/file.txt",
			expected: "path/to/file.txt",
		},
		{
			name:     "windows path",
			input:    "path\\to\\file.txt",
			expected: "path/to/file.txt",
		},
		{
			name:     "path with spaces",
			input:    "path/to/my file.txt",
			expected: "path/to/my+file.txt",
		},
		{
			name:     "path with special chars",
			input:    "path/to/file&name+test.txt",
			expected: "path/to/fileandname+test.txt",
		},
		{
			name:     "path with double slashes",
			input:    "path//to//file.txt",
			expected: "path/to/file.txt",
		},
		{
			name:     "page title",
			input:    "ファイル:猫_(1).jpg",
			expected: "%E3%83%95%E3%82%A1%E3%82%A4%E3%83%AB%3A%E7%8C%AB_%281%29.jpg",
		},
		{
			name:     "subpage title",
			input:    "ファイル:A/B.jpg",
			expected: "%E3%83%95%E3%82%A1%E3%82%A4%E3%83%AB%3AA/B.jpg",
		},
		{
			name:     "empty path",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizePath(tt.input))
		})
	}
}
