// Package discovery queries the external video catalog for live broadcasts per category.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const watchURL = "https://www.youtube.com/watch?v="

type Item struct {
	VideoID      string
	Title        string
	ChannelTitle string
	ThumbnailURL string
	SourceURL    string
}

type Client interface {
	SearchLive(ctx context.Context, category string, limit int) ([]Item, error)
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewHTTPClient(baseURL, apiKey string, client *http.Client) Client {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

func (c *httpClient) SearchLive(ctx context.Context, category string, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("part", "snippet")
	q.Set("eventType", "live")
	q.Set("type", "video")
	q.Set("q", category)
	q.Set("maxResults", strconv.Itoa(limit))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + "/search?" + q.Encode()

	operation := func() (*searchResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("category", category).Msg("discovery request failed, retrying")
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("discovery status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("discovery status %d", resp.StatusCode))
		}

		var out searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode discovery response: %w", err))
		}
		return &out, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	res, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(res.Items))
	for _, it := range res.Items {
		if it.ID.VideoID == "" {
			continue
		}
		item := Item{
			VideoID:      it.ID.VideoID,
			Title:        it.Snippet.Title,
			ChannelTitle: it.Snippet.ChannelTitle,
			SourceURL:    watchURL + it.ID.VideoID,
		}
		for _, size := range []string{"high", "medium", "default"} {
			if th, ok := it.Snippet.Thumbnails[size]; ok {
				item.ThumbnailURL = th.URL
				break
			}
		}
		items = append(items, item)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
