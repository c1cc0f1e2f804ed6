// Package knowledge assembles the grounding context handed to the model:
// the decoded text of every document uploaded under the configured prefix.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Sentinels returned in place of aggregated content. They are fed into the
// prompt verbatim so the model can tell the user the knowledge base is
// missing rather than hallucinating one.
const (
	SentinelUnavailable = "Knowledge base storage is currently unavailable."
	SentinelEmpty       = "No knowledge base available."
)

// BlobGateway is the bulk object-store read capability the aggregator
// depends on.
type BlobGateway interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Aggregator concatenates every readable object under a prefix into a single
// context blob. Individual object failures are tolerated; partial results
// are expected.
type Aggregator struct {
	blob   BlobGateway
	prefix string
	logger *slog.Logger
}

// New creates an Aggregator reading under prefix. An empty prefix reads the
// whole bucket.
func New(blob BlobGateway, prefix string, logger *slog.Logger) (*Aggregator, error) {
	if blob == nil {
		return nil, fmt.Errorf("knowledge: blob gateway must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{blob: blob, prefix: prefix, logger: logger}, nil
}

// Aggregate lists all objects under the configured prefix and joins their
// decoded content into "File: {key}\n{content}" blocks separated by blank
// lines, in listing order. It never returns an error: a failed listing or an
// empty knowledge base degrades to a sentinel string.
func (a *Aggregator) Aggregate(ctx context.Context) string {
	keys, err := a.blob.List(ctx, a.prefix)
	if err != nil {
		a.logger.Error("listing knowledge base objects failed", "prefix", a.prefix, "err", err)
		return SentinelUnavailable
	}
	if len(keys) == 0 {
		return SentinelEmpty
	}

	blocks := make([]string, 0, len(keys))
	for _, key := range keys {
		content, err := a.blob.Get(ctx, key)
		if err != nil {
			a.logger.Error("fetching knowledge base object failed", "key", key, "err", err)
			continue
		}
		if !utf8.Valid(content) {
			a.logger.Warn("skipping non-text knowledge base object", "key", key)
			continue
		}
		blocks = append(blocks, fmt.Sprintf("File: %s\n%s", key, content))
	}
	if len(blocks) == 0 {
		return SentinelEmpty
	}
	return strings.Join(blocks, "\n\n")
}
