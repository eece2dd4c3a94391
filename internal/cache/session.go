package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/poleval/poleval/internal/pkg/errors"
)

// SessionCache persists normalized document text per session on disk so a
// cached policy can be reused across repeated submissions. Submission text
// and raw results are kept only in debug mode. A small expirable LRU sits
// in front of the disk reads.
type SessionCache struct {
	dir   string
	debug bool
	mem   *expirable.LRU[string, string]
}

func New(dir string, debug bool) *SessionCache {
	mem := expirable.NewLRU[string, string](256, nil, 30*time.Minute)
	return &SessionCache{dir: dir, debug: debug, mem: mem}
}

func (c *SessionCache) StorePolicy(ctx context.Context, sessionID, text string) error {
	return c.write(ctx, sessionID, "policy.txt", text)
}

func (c *SessionCache) LoadPolicy(ctx context.Context, sessionID string) (string, error) {
	return c.read(ctx, sessionID, "policy.txt")
}

// StoreSubmission keeps submission text keyed by a hash of the filename, so
// re-uploading the same name overwrites instead of accumulating. No-op
// outside debug mode.
func (c *SessionCache) StoreSubmission(ctx context.Context, sessionID, filename, text string) error {
	if !c.debug {
		return nil
	}
	return c.write(ctx, sessionID, submissionKey(filename), text)
}

func (c *SessionCache) LoadSubmission(ctx context.Context, sessionID, filename string) (string, error) {
	if !c.debug {
		return "", appErr.ErrNotFound
	}
	return c.read(ctx, sessionID, submissionKey(filename))
}

// StoreResult keeps the raw completion JSON next to the submission text.
// No-op outside debug mode.
func (c *SessionCache) StoreResult(ctx context.Context, sessionID, filename, raw string) error {
	if !c.debug {
		return nil
	}
	return c.write(ctx, sessionID, fmt.Sprintf("result_%s.json", filenameHash(filename)), raw)
}

// CleanupBefore removes session directories untouched since the cutoff and
// returns how many were removed.
func (c *SessionCache) CleanupBefore(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.dir, entry.Name())); err != nil {
			logutil.GetLogger(ctx).Warn("remove session dir failed", zap.String("session", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		c.mem.Purge()
	}
	return removed, nil
}

func (c *SessionCache) write(ctx context.Context, sessionID, name, text string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	dir := filepath.Join(c.dir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return err
	}
	c.mem.Add(memKey(sessionID, name), text)
	logutil.GetLogger(ctx).Debug("cache entry written", zap.String("path", path), zap.Int("chars", len(text)))
	return nil
}

func (c *SessionCache) read(ctx context.Context, sessionID, name string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	if cached, ok := c.mem.Get(memKey(sessionID, name)); ok {
		return cached, nil
	}
	path := filepath.Join(c.dir, sessionID, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", appErr.ErrNotFound
		}
		return "", err
	}
	text := string(data)
	c.mem.Add(memKey(sessionID, name), text)
	logutil.GetLogger(ctx).Debug("cache hit", zap.String("path", path))
	return text, nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\.") {
		return fmt.Errorf("%w: session id %q", appErr.ErrInvalid, sessionID)
	}
	return nil
}

func submissionKey(filename string) string {
	return fmt.Sprintf("submission_%s.txt", filenameHash(filename))
}

func filenameHash(filename string) string {
	sum := sha256.Sum256([]byte(filename))
	return hex.EncodeToString(sum[:])[:16]
}

func memKey(sessionID, name string) string {
	return sessionID + "/" + name
}
