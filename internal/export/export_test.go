// SPDX-License-Identifier: Apache-2.0

package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type failingSink struct{}

func (failingSink) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket gone")
}

func TestFilename(t *testing.T) {
	now := time.Date(2025, 5, 5, 10, 4, 5, 678_000_000, time.FixedZone("CEST", 2*3600))

	cases := []struct {
		product string
		want    string
	}{
		{product: "", want: "steepgraph_events_2025-05-05T08-04-05-678Z.xml"},
		{product: "  ", want: "steepgraph_events_2025-05-05T08-04-05-678Z.xml"},
		{product: "acme", want: "acme_events_2025-05-05T08-04-05-678Z.xml"},
	}
	for _, tc := range cases {
		if got := Filename(tc.product, now); got != tc.want {
			t.Fatalf("product %q: expected %s got %s", tc.product, tc.want, got)
		}
	}
}

func TestFileSinkSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatalf("new file sink: %v", err)
	}

	e := NewExporter(sink, "acme", slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	name, location, err := e.Save(context.Background(), "<eventLog></eventLog>")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "acme_events_2025-01-02T03-04-05-000Z.xml" {
		t.Fatalf("unexpected name %s", name)
	}
	if location != filepath.Join(dir, name) {
		t.Fatalf("unexpected location %s", location)
	}
	body, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if string(body) != "<eventLog></eventLog>" {
		t.Fatalf("unexpected body %q", body)
	}
	if _, err := os.Stat(location + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be renamed away")
	}
}

func TestExporterErrors(t *testing.T) {
	var nilExporter *Exporter
	if _, _, err := nilExporter.Save(context.Background(), ""); !errors.Is(err, ErrNoSink) {
		t.Fatalf("expected ErrNoSink got %v", err)
	}

	e := NewExporter(failingSink{}, "", nil)
	if _, _, err := e.Save(context.Background(), "<eventLog/>"); err == nil {
		t.Fatal("expected sink failure to surface")
	}
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	if _, err := NewS3Sink(context.Background(), S3Config{Region: "us-east-1"}); err == nil {
		t.Fatal("expected missing bucket to fail")
	}
}

func TestS3SinkObjectKey(t *testing.T) {
	sink, err := NewS3Sink(context.Background(), S3Config{
		Bucket:   "recordings",
		Region:   "us-east-1",
		Endpoint: "http://127.0.0.1:9000",
		Prefix:   "exports/",
	})
	if err != nil {
		t.Fatalf("new s3 sink: %v", err)
	}
	if got := sink.objectKey("a.xml"); got != "exports/a.xml" {
		t.Fatalf("unexpected key %s", got)
	}
}
