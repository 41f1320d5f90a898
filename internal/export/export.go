// SPDX-License-Identifier: Apache-2.0

// Package export saves serialized event logs under timestamped file names.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adiadia/session-recorder/internal/domain"
)

const (
	DefaultProduct = "steepgraph"
	ContentType    = "application/xml"
)

var ErrNoSink = errors.New("no export sink configured")

// Sink stores one exported document and returns where it went.
type Sink interface {
	Save(ctx context.Context, name string, body []byte) (string, error)
}

// Filename builds "<product>_events_<timestamp>.xml" where the timestamp is
// the ISO-8601 UTC time with ':' and '.' replaced by '-'.
func Filename(product string, now time.Time) string {
	product = strings.TrimSpace(product)
	if product == "" {
		product = DefaultProduct
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(domain.FormatTime(now))
	return product + "_events_" + stamp + ".xml"
}

type Exporter struct {
	sink    Sink
	product string
	now     func() time.Time
	logger  *slog.Logger
}

func NewExporter(sink Sink, product string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{sink: sink, product: product, now: time.Now, logger: logger}
}

// Filename returns the name the next export taken now would get.
func (e *Exporter) Filename() string {
	return Filename(e.product, e.now())
}

// Save writes xml through the sink and returns the file name and location.
func (e *Exporter) Save(ctx context.Context, xml string) (name, location string, err error) {
	if e == nil || e.sink == nil {
		return "", "", ErrNoSink
	}
	name = e.Filename()
	location, err = e.sink.Save(ctx, name, []byte(xml))
	if err != nil {
		e.logger.Error("export failed", "file", name, "error", err)
		return "", "", fmt.Errorf("export %s: %w", name, err)
	}
	e.logger.Info("event log exported", "file", name, "location", location, "bytes", len(xml))
	return name, location, nil
}
