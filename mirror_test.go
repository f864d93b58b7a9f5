package main

import (
	"bytes"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjectAPI pretends to be a bucket: keys in `existing` are already
// mirrored, keys in `broken` fail their upload.
type fakeObjectAPI struct {
	mu       sync.Mutex
	existing map[string]bool
	broken   map[string]bool
	puts     []string
}

func newFakeObjectAPI() *fakeObjectAPI {
	return &fakeObjectAPI{
		existing: make(map[string]bool),
		broken:   make(map[string]bool),
	}
}

func (f *fakeObjectAPI) HeadObject(input *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[aws.StringValue(input.Key)] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, awserr.New("NotFound", "no such object", nil)
}

func (f *fakeObjectAPI) PutObject(input *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.StringValue(input.Key)
	if f.broken[key] {
		return nil, awserr.New("InternalError", "upload failed", nil)
	}
	f.existing[key] = true
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func storeTestAsset(t *testing.T, storage *Storage, content []byte, name string) string {
	t.Helper()
	sha1Hash, size, err := storage.Store(bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, AddAsset(Asset{
		SHA1:        sha1Hash,
		FileName:    name,
		ContentType: "application/octet-stream",
		MediaKind:   MediaKindOther,
		Size:        size,
	}))
	return sha1Hash
}

func TestMirrorSweepUploadsNewAssets(t *testing.T) {
	storage := setupTest(t)
	fake := newFakeObjectAPI()

	first := storeTestAsset(t, storage, []byte("asset one"), "one.bin")
	second := storeTestAsset(t, storage, []byte("asset two"), "two.bin")

	mirror := &Mirror{storage: storage, objects: fake, bucket: "backup", concurrency: 2}
	stats, err := mirror.Sweep()
	require.NoError(t, err)

	assert.Equal(t, MirrorStats{Mirrored: 2}, stats)
	assert.ElementsMatch(t, []string{"assets/" + first, "assets/" + second}, fake.puts)
}

func TestMirrorSweepSkipsExistingKeys(t *testing.T) {
	storage := setupTest(t)
	fake := newFakeObjectAPI()

	existing := storeTestAsset(t, storage, []byte("already there"), "old.bin")
	fake.existing["assets/"+existing] = true
	storeTestAsset(t, storage, []byte("brand new"), "new.bin")

	mirror := &Mirror{storage: storage, objects: fake, bucket: "backup", concurrency: 2}
	stats, err := mirror.Sweep()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Mirrored)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Failed)
}

func TestMirrorSweepCountsFailuresWithoutAborting(t *testing.T) {
	storage := setupTest(t)
	fake := newFakeObjectAPI()

	bad := storeTestAsset(t, storage, []byte("will fail"), "bad.bin")
	fake.broken["assets/"+bad] = true
	storeTestAsset(t, storage, []byte("will succeed"), "good.bin")

	mirror := &Mirror{storage: storage, objects: fake, bucket: "backup", concurrency: 1}
	stats, err := mirror.Sweep()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Mirrored)
	assert.Equal(t, 1, stats.Failed)
}
