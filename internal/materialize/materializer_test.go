package materialize

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/parser"
	"github.com/jittakal/kafbridge/internal/source/memsource"
	"github.com/jittakal/kafbridge/internal/storage"
	"github.com/jittakal/kafbridge/internal/testutil"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/flattable"
	"github.com/jittakal/kafbridge/pkg/segment"
)

const testTopic = "orders"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type rejectRecorder struct {
	mu      sync.Mutex
	offsets []string
}

func (r *rejectRecorder) Publish(ctx context.Context, topic string, msg segment.RawMessage, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offsets = append(r.offsets, fmt.Sprintf("%s/%d/%d", topic, msg.Partition, msg.Offset))
	return nil
}

func (r *rejectRecorder) Close() error { return nil }

type fixture struct {
	src     *memsource.Source
	writer  *storage.FileWriter
	base    string
	input   *flattable.TableInput
	rejects *rejectRecorder
}

func newFixture(t *testing.T, partitions, perPartition, malformedEvery int) (*fixture, int) {
	t.Helper()

	src := memsource.New()
	malformed := testutil.FillOrders(t, src, testTopic, partitions, perPartition, malformedEvery)

	base := t.TempDir()
	writer, err := storage.NewFileWriter(storage.FileConfig{BasePath: base}, storage.EncoderConfig{Format: pkgencoder.FormatDelimited}, newTestLogger(), nil)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	p, err := parser.DefaultRegistry().New(parser.NameJSON, testutil.OrderColumns, nil)
	if err != nil {
		t.Fatalf("parser error = %v", err)
	}
	input, err := flattable.New(testutil.OrderColumns, p, ",")
	if err != nil {
		t.Fatalf("flattable.New() error = %v", err)
	}

	return &fixture{src: src, writer: writer, base: base, input: input, rejects: &rejectRecorder{}}, malformed
}

func (f *fixture) materializer(cfg Config) *Materializer {
	cfg.Table = "orders_flat"
	cfg.Topic = testTopic
	cfg.Format = string(pkgencoder.FormatDelimited)
	return New(f.src, f.writer, f.input, f.rejects, cfg, newTestLogger(), nil)
}

// stagedFiles returns the contents of every file below dir, keyed by name.
func stagedFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) error = %v", dir, err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = data
	}
	return out
}

func countLines(files map[string][]byte) int {
	n := 0
	for name, data := range files {
		if strings.HasPrefix(name, "part-") {
			n += bytes.Count(data, []byte("\n"))
		}
	}
	return n
}

func fullRange(partitions int, end int64) segment.Offsets {
	ranges := make([]segment.PartitionOffsetRange, partitions)
	for p := range ranges {
		ranges[p] = segment.PartitionOffsetRange{Partition: int32(p), Start: 0, End: end}
	}
	return segment.NewOffsets(ranges...)
}

func TestMaterializer_EndToEnd(t *testing.T) {
	f, malformed := newFixture(t, 2, 250, 50)
	if malformed != 10 {
		t.Fatalf("fixture has %d malformed messages, want 10", malformed)
	}

	m := f.materializer(Config{MaxRejectionRatio: 1})
	manifest, err := m.Run(context.Background(), "file://job-1/flat_orders_s1", "s1", fullRange(2, 250))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if manifest.Rows != 490 || manifest.Rejected != 10 {
		t.Errorf("manifest rows/rejected = %d/%d, want 490/10", manifest.Rows, manifest.Rejected)
	}
	if len(f.rejects.offsets) != 10 {
		t.Errorf("published %d rejects, want 10", len(f.rejects.offsets))
	}

	files := stagedFiles(t, filepath.Join(f.base, "job-1", "flat_orders_s1"))
	if _, ok := files[ManifestName]; !ok {
		t.Fatal("manifest not written")
	}
	if got := countLines(files); got != 490 {
		t.Errorf("staged %d rows, want 490", got)
	}

	if manifest.MinTimestamp == nil || !manifest.MinTimestamp.Equal(testutil.FixtureStart) {
		t.Errorf("MinTimestamp = %v, want %v", manifest.MinTimestamp, testutil.FixtureStart)
	}
	// message 249 is malformed, so the last row is message 248
	wantMax := testutil.FixtureStart.Add(248e9)
	if manifest.MaxTimestamp == nil || !manifest.MaxTimestamp.Equal(wantMax) {
		t.Errorf("MaxTimestamp = %v, want %v", manifest.MaxTimestamp, wantMax)
	}

	read, err := ReadManifest(context.Background(), f.writer, "file://job-1/flat_orders_s1")
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if !read.Offsets().Equal(fullRange(2, 250)) {
		t.Errorf("manifest offsets = %v", read.Offsets())
	}
	for _, file := range read.Files {
		data := files[filepath.Base(strings.TrimPrefix(file.Path, "file://"))]
		if storage.Fingerprint(data) != file.Fingerprint {
			t.Errorf("fingerprint of %s does not match its content", file.Path)
		}
	}
}

func TestMaterializer_RerunIsByteIdentical(t *testing.T) {
	f, _ := newFixture(t, 3, 120, 0)
	m := f.materializer(Config{MaxRecordsPerFile: 50})
	dir := filepath.Join(f.base, "job-1", "flat_orders_s1")
	offsets := fullRange(3, 120)

	if _, err := m.Run(context.Background(), "file://job-1/flat_orders_s1", "s1", offsets); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	first := stagedFiles(t, dir)

	if _, err := m.Run(context.Background(), "file://job-1/flat_orders_s1", "s1", offsets); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	second := stagedFiles(t, dir)

	if len(first) != len(second) {
		t.Fatalf("file count changed: %d vs %d", len(first), len(second))
	}
	for name, data := range first {
		if !bytes.Equal(data, second[name]) {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func TestMaterializer_ExclusiveEnd(t *testing.T) {
	f, _ := newFixture(t, 1, 10, 0)
	m := f.materializer(Config{})

	manifest, err := m.Run(context.Background(), "file://job-1/s1", "s1", fullRange(1, 5))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if manifest.Rows != 5 {
		t.Errorf("rows = %d, want 5", manifest.Rows)
	}
	wantMax := testutil.FixtureStart.Add(4e9)
	if !manifest.MaxTimestamp.Equal(wantMax) {
		t.Errorf("MaxTimestamp = %v, want %v (offset 5 must not be read)", manifest.MaxTimestamp, wantMax)
	}
}

func TestMaterializer_Chunks(t *testing.T) {
	f, _ := newFixture(t, 1, 250, 0)
	m := f.materializer(Config{MaxRecordsPerFile: 100})

	manifest, err := m.Run(context.Background(), "file://job-1/s1", "s1", fullRange(1, 250))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var names []string
	for _, file := range manifest.Files {
		names = append(names, filepath.Base(file.Path))
	}
	sort.Strings(names)
	want := []string{"part-0-0.csv", "part-0-1.csv", "part-0-2.csv"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("chunk files = %v, want %v", names, want)
	}
	if len(manifest.Partitions[0].Files) != 3 {
		t.Errorf("partition files = %v", manifest.Partitions[0].Files)
	}
}

func TestMaterializer_RejectionCeiling(t *testing.T) {
	f, _ := newFixture(t, 2, 250, 50)
	m := f.materializer(Config{MaxRejectionRatio: 0.01})

	_, err := m.Run(context.Background(), "file://job-1/s1", "s1", fullRange(2, 250))
	if !errors.Is(err, errors.ErrRejectionCeiling) {
		t.Fatalf("Run() error = %v, want ErrRejectionCeiling", err)
	}
	if errors.IsRetryable(err) {
		t.Error("rejection ceiling should not be retryable")
	}

	_, err = ReadManifest(context.Background(), f.writer, "file://job-1/s1")
	if !errors.Is(err, errors.ErrManifestNotFound) {
		t.Errorf("ReadManifest() error = %v, want ErrManifestNotFound", err)
	}
}

func TestMaterializer_PurgesStaleOutput(t *testing.T) {
	f, _ := newFixture(t, 1, 10, 0)
	ctx := context.Background()
	if err := f.writer.PutObject(ctx, "file://job-1/s1/part-7-0.csv", []byte("stale\n")); err != nil {
		t.Fatal(err)
	}

	if _, err := f.materializer(Config{}).Run(ctx, "file://job-1/s1", "s1", fullRange(1, 10)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.base, "job-1", "s1", "part-7-0.csv")); !os.IsNotExist(err) {
		t.Errorf("stale chunk survived the run: %v", err)
	}
}

func TestMaterializer_EmptyRange(t *testing.T) {
	f, _ := newFixture(t, 2, 10, 0)
	offsets := segment.NewOffsets(
		segment.PartitionOffsetRange{Partition: 0, Start: 10, End: 10},
		segment.PartitionOffsetRange{Partition: 1, Start: 10, End: 10},
	)

	manifest, err := f.materializer(Config{}).Run(context.Background(), "file://job-1/s1", "s1", offsets)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if manifest.Rows != 0 || len(manifest.Files) != 0 || manifest.MinTimestamp != nil {
		t.Errorf("manifest = %+v, want empty", manifest)
	}
}

type strayOffsetSource struct {
	*memsource.Source
}

func (s strayOffsetSource) Read(ctx context.Context, topic string, partition int32, start, end int64, fn func(segment.RawMessage) error) error {
	return fn(segment.RawMessage{Partition: partition, Offset: end, Payload: []byte(`{"user":"x"}`)})
}

func TestMaterializer_RejectsOffsetOutsideRange(t *testing.T) {
	f, _ := newFixture(t, 1, 10, 0)
	m := New(strayOffsetSource{f.src}, f.writer, f.input, nil, Config{Topic: testTopic}, newTestLogger(), nil)

	_, err := m.Run(context.Background(), "file://job-1/s1", "s1", fullRange(1, 5))
	var consErr *errors.ConsistencyError
	if !errors.As(err, &consErr) {
		t.Fatalf("Run() error = %v, want ConsistencyError", err)
	}
}

func TestMaterializer_SourceFailure(t *testing.T) {
	f, _ := newFixture(t, 1, 10, 0)
	f.src.FailNext("read", &errors.TransientSourceError{Topic: testTopic, Operation: "read", Err: errors.ErrConnectionLost})

	_, err := f.materializer(Config{}).Run(context.Background(), "file://job-1/s1", "s1", fullRange(1, 10))
	if !errors.IsRetryable(err) {
		t.Errorf("Run() error = %v, want retryable", err)
	}
}
