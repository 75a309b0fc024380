package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/testutil"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func setup(t *testing.T) (dir, config string) {
	t.Helper()

	dir = t.TempDir()
	config = writeFile(t, dir, "tensordb.yaml", `
storage:
  kind: local
  path: `+filepath.Join(dir, "data")+`
backup:
  kind: local
  path: `+filepath.Join(dir, "backup")+`
docs:
  sqlite: `+filepath.Join(dir, "docs.db")+`
lock:
  default: process
  dir: `+filepath.Join(dir, "locks")+`
compression: zstd
`)

	return dir, config
}

func run(t *testing.T, config string, stdin string, args ...string) string {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := NewRootCommand(strings.NewReader(stdin), &stdout, &stderr)
	cmd.SetArgs(append([]string{"--config", config}, args...))
	require.NoError(t, cmd.Execute(), "stderr: %s", stderr.String())

	return stdout.String()
}

func TestStoreAndRead(t *testing.T) {
	dir, config := setup(t)

	run(t, config, "", "definition", "add", "daily", writeFile(t, dir, "daily.yaml", `
handler:
  chunks: {index: 2}
`))
	assert.Equal(t, "daily\n", run(t, config, "", "definition", "list"))

	run(t, config, "", "create", "prices", "--definition", "daily", "--metadata", "owner=research")

	data, err := json.Marshal(testutil.Grid(array.Ints(0, 1, 2), array.Strings("a"), 1, 2, 3))
	require.NoError(t, err)

	run(t, config, string(data), "store", "prices", "-")
	assert.Equal(t, "true\n", run(t, config, "", "exist", "prices"))

	var got array.Array
	require.NoError(t, json.Unmarshal([]byte(run(t, config, "", "read", "prices", "--coords", `{"index": [1, 2]}`)), &got))
	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(1, 2), array.Strings("a"), 2, 3), &got)

	require.NoError(t, json.Unmarshal([]byte(run(t, config, "", "formula", "`prices` * 10")), &got))
	testutil.RequireArrayEqual(t, testutil.Grid(array.Ints(0, 1, 2), array.Strings("a"), 10, 20, 30), &got)
}

func TestAttrsBackupAndRestore(t *testing.T) {
	_, config := setup(t)

	run(t, config, "", "create", "t")

	data, err := json.Marshal(testutil.Full(array.Ints(0), array.Strings("a"), 1))
	require.NoError(t, err)

	run(t, config, string(data), "store", "t", "-")
	run(t, config, "", "attrs", "set", "t", `{"source": {"name": "feed"}}`)
	assert.Equal(t, "\"feed\"\n", run(t, config, "", "attrs", "query", "t", "$.source.name"))

	run(t, config, "", "backup", "t")
	run(t, config, "", "delete", "t")
	assert.Equal(t, "false\n", run(t, config, "", "exist", "t"))

	run(t, config, "", "restore", "t")
	assert.Equal(t, "true\n", run(t, config, "", "exist", "t"))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, StorageLocal, cfg.Storage.Kind)

	_, err = LoadConfig(writeFile(t, dir, "bad.yaml", "storage: {kind: ftp}\n"))
	require.ErrorContains(t, err, "unknown storage kind")

	_, err = LoadConfig(writeFile(t, dir, "lock.yaml", "lock: {default: distributed}\n"))
	require.ErrorContains(t, err, "dynamodb.table")

	_, err = LoadConfig(writeFile(t, dir, "s3.yaml", "storage: {kind: s3}\n"))
	require.ErrorContains(t, err, "bucket")

	cfg, err = LoadConfig(writeFile(t, dir, "minio.yaml", `
storage:
  kind: minio
  minio: {endpoint: "localhost:9000", bucket: tensors, access_key: k, secret_key: s}
log_level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, "tensors", cfg.Storage.MinIO.Bucket)
}
