package lecture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
	"go.elastic.co/apm/module/apmhttp"
)

// DefaultHitTTL how long search hits stay resolvable by ID
const DefaultHitTTL = time.Hour

// HTTPLectureRepository catalog served by an upstream search service.
//
// The service only offers search, so every hit is kept in the KV store and
// Get resolves lectures a viewer has seen in a result list.
type HTTPLectureRepository struct {
	endpoint string
	client   *http.Client
	kv       driver.KeyValueDB
	hitTTL   time.Duration
}

var _ LectureRepository = &HTTPLectureRepository{}

// upstream wire format
type searchHit struct {
	ID           string   `json:"id"`
	Score        *float64 `json:"score"`
	CourseTitle  string   `json:"courseTitle"`
	LectureTitle string   `json:"lectureTitle"`
	YoutubeURL   string   `json:"youtubeUrl"`
}

type searchResponse struct {
	Results []*searchHit `json:"results"`
}

// NewHTTPLectureRepository .
func NewHTTPLectureRepository(endpoint string, timeout time.Duration, kv driver.KeyValueDB) *HTTPLectureRepository {
	return &HTTPLectureRepository{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   apmhttp.WrapClient(&http.Client{Timeout: timeout}),
		kv:       kv,
		hitTTL:   DefaultHitTTL,
	}
}

// Search GET {endpoint}/search?query=&top_k=
func (repo *HTTPLectureRepository) Search(ctx context.Context, query string, topK int) ([]*LectureModel, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("top_k", strconv.Itoa(topK))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, repo.endpoint+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := repo.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("search failed: %s", http.StatusText(res.StatusCode))
	}

	var body searchResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("search failed: malformed response: %w", err)
	}

	result := make([]*LectureModel, 0, len(body.Results))
	for _, hit := range body.Results {
		if hit == nil {
			continue
		}
		item := &LectureModel{
			ID:           hit.ID,
			CourseTitle:  hit.CourseTitle,
			LectureTitle: hit.LectureTitle,
			MediaURL:     hit.YoutubeURL,
		}
		if hit.Score != nil {
			item.Score = *hit.Score
		}
		ensureID(item)
		result = append(result, item)
	}
	if err := repo.remember(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Get resolves a lecture returned by an earlier search
func (repo *HTTPLectureRepository) Get(ctx context.Context, id string) (*LectureModel, error) {
	raw, err := repo.kv.Get(ctx, hitKey(id))
	if errors.Is(err, driver.ErrKeyNotFound) {
		return nil, ErrLectureNotFound
	}
	if err != nil {
		return nil, err
	}
	item := new(LectureModel)
	if err := json.Unmarshal([]byte(raw), item); err != nil {
		return nil, fmt.Errorf("corrupt cached lecture %s: %w", id, err)
	}
	return item, nil
}

func (repo *HTTPLectureRepository) remember(ctx context.Context, items []*LectureModel) error {
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := repo.kv.SetEX(ctx, hitKey(item.ID), string(raw), repo.hitTTL); err != nil {
			return fmt.Errorf("failed to cache search hit: %w", err)
		}
	}
	return nil
}

func hitKey(id string) string {
	return "lecture:" + id
}
