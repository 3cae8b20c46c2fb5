package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

const (
	headerRevision = "X-Windlass-Revision"
	headerDigest   = "X-Windlass-Digest"
	headerBuiltAt  = "X-Windlass-Built-At"

	tagListCacheKey = "tags"
)

// Client is a Registry talking to a remote artifact store over HTTP. Transient
// failures are retried by the underlying retryable client; authentication
// failures and tag conflicts are surfaced as permanent errors.
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	tagsCache *gocache.Cache
}

// ClientOpts customizes a Client
type ClientOpts struct {
	// RetryMax bounds transient retries per request
	RetryMax int
	// TagsCacheExpiration is how long a fetched tag list is served from cache
	TagsCacheExpiration time.Duration
}

func NewClient(baseURL string, opts ClientOpts) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid registry URL %q: %w", baseURL, err)
	}
	hc := retryablehttp.NewClient()
	hc.Logger = log.StandardLogger()
	if opts.RetryMax > 0 {
		hc.RetryMax = opts.RetryMax
	}
	expiration := opts.TagsCacheExpiration
	if expiration == 0 {
		expiration = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		http:      hc,
		tagsCache: gocache.New(expiration, 5*time.Minute),
	}, nil
}

func (c *Client) Push(ctx context.Context, artifact *Artifact) error {
	digest := artifact.Digest
	if digest == "" {
		digest = Digest(artifact.Content)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, c.artifactURL(artifact.Tag), artifact.Content)
	if err != nil {
		return err
	}
	req.Header.Set(headerRevision, artifact.Revision)
	req.Header.Set(headerDigest, digest)
	req.Header.Set(headerBuiltAt, artifact.BuiltAt.UTC().Format(time.RFC3339))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", artifact.Tag, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		c.tagsCache.Delete(tagListCacheKey)
		return nil
	case http.StatusConflict:
		return ErrTagImmutable
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("push %s: unexpected status %s", artifact.Tag, resp.Status)
	}
}

func (c *Client) Pull(ctx context.Context, tag string) (*Artifact, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.artifactURL(tag), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", tag, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrTagNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("pull %s: unexpected status %s", tag, resp.Status)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	artifact := &Artifact{
		Tag:      tag,
		Revision: resp.Header.Get(headerRevision),
		Digest:   resp.Header.Get(headerDigest),
		Content:  content,
	}
	if builtAt, err := time.Parse(time.RFC3339, resp.Header.Get(headerBuiltAt)); err == nil {
		artifact.BuiltAt = builtAt
	}
	return artifact, nil
}

func (c *Client) Tags(ctx context.Context) ([]string, error) {
	if cached, ok := c.tagsCache.Get(tagListCacheKey); ok {
		return cached.([]string), nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tags: unexpected status %s", resp.Status)
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	c.tagsCache.Set(tagListCacheKey, body.Tags, gocache.DefaultExpiration)
	return body.Tags, nil
}

func (c *Client) artifactURL(tag string) string {
	return c.baseURL + "/v2/artifacts/" + url.PathEscape(tag)
}
