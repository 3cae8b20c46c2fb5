package glob

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/golang/groupcache/lru"
	log "github.com/sirupsen/logrus"
)

// globCacheSize is the maximum number of compiled glob patterns kept. Patterns
// come from user-supplied unit selectors, so the cache is bounded.
const globCacheSize = 1000

var (
	globCache     *lru.Cache
	globCacheLock sync.Mutex
)

func init() {
	globCache = lru.New(globCacheSize)
}

// getOrCompile returns a cached compiled glob pattern, compiling and caching it if necessary.
func getOrCompile(pattern string, separators ...rune) (glob.Glob, error) {
	globCacheLock.Lock()
	defer globCacheLock.Unlock()

	if cached, ok := globCache.Get(pattern); ok {
		return cached.(glob.Glob), nil
	}

	compiled, err := glob.Compile(pattern, separators...)
	if err != nil {
		return nil, err
	}

	globCache.Add(pattern, compiled)
	return compiled, nil
}

// Match tries to match a text with a given glob pattern.
// Compiled glob patterns are cached for performance.
func Match(pattern, text string, separators ...rune) bool {
	compiled, err := getOrCompile(pattern, separators...)
	if err != nil {
		log.Warnf("failed to compile pattern %s due to error %v", pattern, err)
		return false
	}
	return compiled.Match(text)
}
