package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/port/cache"
)

// CachedProjects memoizes project lookups for ttl. Unlinked issues are
// cached as well; lookup errors are not.
type CachedProjects struct {
	source ProjectLinker
	cache  cache.Cache
	ttl    time.Duration
	log    *slog.Logger
}

// NewCachedProjects wraps source with c. A nil cache disables caching.
func NewCachedProjects(source ProjectLinker, c cache.Cache, ttl time.Duration, log *slog.Logger) *CachedProjects {
	return &CachedProjects{source: source, cache: c, ttl: ttl, log: log}
}

// ProjectLink implements ProjectLinker.
func (p *CachedProjects) ProjectLink(ctx context.Context, repo issue.Repo, number int) (*issue.ProjectLink, error) {
	if p.cache == nil {
		return p.source.ProjectLink(ctx, repo, number)
	}

	key := fmt.Sprintf("project:%s#%d", repo, number)
	if data, ok, err := p.cache.Get(ctx, key); err != nil {
		p.log.DebugContext(ctx, "project cache get failed", "key", key, "error", err)
	} else if ok {
		var link *issue.ProjectLink
		if err := json.Unmarshal(data, &link); err == nil {
			return link, nil
		}
	}

	link, err := p.source.ProjectLink(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	// A nil link encodes as "null" and decodes back to nil.
	data, err := json.Marshal(link)
	if err == nil {
		if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
			p.log.DebugContext(ctx, "project cache set failed", "key", key, "error", err)
		}
	}
	return link, nil
}
