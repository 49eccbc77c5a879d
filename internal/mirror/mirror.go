// Package mirror replicates prefixes inside durable object storage and
// persists single-file snapshots of a session's workspace.
//
// Object keys follow a fixed layout that other services depend on:
//
//	base/<template>/...   template trees
//	code/<sessionId>/...  live session trees
//
// A prefix is only a naming convention over the flat key space.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ALOK9821/replit-clone/internal/logging"
	"github.com/ALOK9821/replit-clone/internal/metrics"
)

// ErrUpstream marks object store failures. The store's own error stays in
// the chain for diagnostics.
var ErrUpstream = errors.New("object store failure")

// DefaultConcurrency bounds the copies in flight for one listing page.
const DefaultConcurrency = 16

const (
	templateRoot = "base"
	sessionRoot  = "code"
)

// TemplatePrefix returns the key prefix of a template tree.
func TemplatePrefix(template string) string {
	return templateRoot + "/" + template
}

// SessionPrefix returns the key prefix of a live session tree.
func SessionPrefix(sessionID string) string {
	return sessionRoot + "/" + sessionID
}

// Mirror issues replication and upload operations against a Store. It keeps
// no state between calls.
type Mirror struct {
	store       Store
	concurrency int
}

// Option configures a Mirror.
type Option func(*Mirror)

// WithConcurrency bounds per-page copy fan-out. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(m *Mirror) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// New returns a Mirror over store.
func New(store Store, opts ...Option) *Mirror {
	m := &Mirror{store: store, concurrency: DefaultConcurrency}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RewriteKey swaps the leading src of key for dst. Occurrences of src later
// in the key are left alone. ok is false when key does not start with src.
func RewriteKey(key, src, dst string) (string, bool) {
	if !strings.HasPrefix(key, src) {
		return "", false
	}
	return dst + key[len(src):], true
}

// CopyPrefix copies every object under src to the same relative key under
// dst. Listing pages are processed one at a time: all copies of a page
// finish before the next page is requested. Within a page at most
// concurrency copies run at once. The first failure cancels the rest of the
// page and aborts the job; objects already copied stay in place.
func (m *Mirror) CopyPrefix(ctx context.Context, src, dst string) error {
	var (
		token  string
		copied int
		pages  int
	)

	for {
		page, err := m.store.List(ctx, src, token)
		if err != nil {
			metrics.RecordReplicationJob(copied, false)
			return fmt.Errorf("%w: list %s: %w", ErrUpstream, src, err)
		}
		pages++
		if len(page.Keys) == 0 {
			break
		}

		n, err := m.copyPage(ctx, page.Keys, src, dst)
		copied += n
		if err != nil {
			metrics.RecordReplicationJob(copied, false)
			logging.Error("prefix replication failed",
				zap.String("src", src), zap.String("dst", dst),
				zap.Int("copied", copied), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrUpstream, err)
		}

		if !page.Truncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	metrics.RecordReplicationJob(copied, true)
	logging.Info("prefix replicated",
		zap.String("src", src), zap.String("dst", dst),
		zap.Int("keys", copied), zap.Int("pages", pages))
	return nil
}

// copyPage returns how many copies completed, including when it fails.
func (m *Mirror) copyPage(ctx context.Context, keys []string, src, dst string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)

	var done atomic.Int64
	for _, key := range keys {
		dstKey, ok := RewriteKey(key, src, dst)
		if !ok {
			logging.Warn("listed key outside source prefix, skipping",
				zap.String("key", key), zap.String("prefix", src))
			continue
		}
		key, dstKey := key, dstKey
		g.Go(func() error {
			// The page is already failing; do not start more copies.
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := m.store.Copy(gctx, key, dstKey); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(done.Load()), err
}

// ObjectKey joins prefix and a workspace-relative path. ".." segments cannot
// climb above prefix.
func ObjectKey(prefix, relPath string) string {
	return path.Join(prefix, path.Clean("/"+relPath))
}

// PutObject stores content at prefix/relPath.
func (m *Mirror) PutObject(ctx context.Context, prefix, relPath, content string) error {
	key := ObjectKey(prefix, relPath)
	if err := m.store.Put(ctx, key, []byte(content)); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrUpstream, key, err)
	}
	return nil
}
