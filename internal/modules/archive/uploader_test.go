package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader records uploaded keys and bodies.
type fakeUploader struct {
	objects map[string][]byte
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[*input.Key] = body
	return &manager.UploadOutput{}, nil
}

func writeRunDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "20230601_120000")
	require.NoError(t, os.MkdirAll(dir, 0755))
	files := map[string]string{
		"ma_cross_backtest_result.json": `{"run_id":"run-1"}`,
		"ma_cross_trades.csv":           "trade_id,symbol\n",
		"equity_curve.png":              "fakepng",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestUploadDirKeysAndBodies(t *testing.T) {
	fake := &fakeUploader{}
	a := newWithUploader(Config{Bucket: "results", Prefix: "backtests"}, fake, zerolog.Nop())

	count, err := a.UploadDir(context.Background(), writeRunDir(t))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	keys := make([]string, 0, len(fake.objects))
	for k := range fake.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"backtests/20230601_120000/equity_curve.png",
		"backtests/20230601_120000/ma_cross_backtest_result.json",
		"backtests/20230601_120000/ma_cross_trades.csv",
	}, keys)
	assert.Equal(t, []byte(`{"run_id":"run-1"}`),
		fake.objects["backtests/20230601_120000/ma_cross_backtest_result.json"])
}

func TestUploadDirWithoutPrefix(t *testing.T) {
	fake := &fakeUploader{}
	a := newWithUploader(Config{Bucket: "results"}, fake, zerolog.Nop())

	_, err := a.UploadDir(context.Background(), writeRunDir(t))
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "20230601_120000/ma_cross_trades.csv")
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestContentTypes(t *testing.T) {
	cases := map[string]string{
		"a.json": "application/json",
		"a.csv":  "text/csv",
		"a.md":   "text/markdown",
		"a.PNG":  "image/png",
		"a.bin":  "application/octet-stream",
	}
	for path, want := range cases {
		assert.Equal(t, want, contentType(path), path)
	}
}
