package lecture

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"

	"go.elastic.co/apm"
	"golang.org/x/sync/singleflight"
)

// search limits
const (
	DefaultTopK = 20
	MaxTopK     = 50
)

// ErrEmptyQuery blank search query
var ErrEmptyQuery = errors.New("query must not be empty")

// LectureUseCaseImpl ...
type LectureUseCaseImpl struct {
	LectureRepository LectureRepository
	topK              int
	lookups           singleflight.Group
}

var _ LectureUseCase = &LectureUseCaseImpl{}

// NewLectureUseCase topK is used when a search asks for none
func NewLectureUseCase(
	LectureRepository LectureRepository,
	topK int,
) *LectureUseCaseImpl {
	if topK <= 0 || topK > MaxTopK {
		topK = DefaultTopK
	}
	return &LectureUseCaseImpl{LectureRepository: LectureRepository, topK: topK}
}

// Search finds lectures and groups them by course
func (lu *LectureUseCaseImpl) Search(ctx context.Context, query string, topK int) (*SearchResult, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "LectureUseCaseImpl.Search", "service")
	defer apmSpan.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = lu.topK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	hits, err := lu.LectureRepository.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	for _, hit := range hits {
		decorate(hit)
	}
	return &SearchResult{
		Courses:      GroupByCourse(hits),
		LectureCount: len(hits),
	}, nil
}

// Get resolves one lecture, concurrent lookups of the same ID share one query
func (lu *LectureUseCaseImpl) Get(ctx context.Context, id string) (*LectureModel, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "LectureUseCaseImpl.Get", "service")
	defer apmSpan.End()

	v, err, _ := lu.lookups.Do(id, func() (interface{}, error) {
		return lu.LectureRepository.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	item := *v.(*LectureModel)
	decorate(&item)
	return &item, nil
}

// GroupByCourse groups records by course title, courses keep the order in
// which they first appear and lectures keep their relative order
func GroupByCourse(records []*LectureModel) []*CourseGroup {
	groups := make([]*CourseGroup, 0)
	index := make(map[string]*CourseGroup)
	for _, record := range records {
		key := record.CourseTitle
		if key == "" {
			key = UntitledCourse
		}
		group, ok := index[key]
		if !ok {
			group = &CourseGroup{CourseTitle: key}
			index[key] = group
			groups = append(groups, group)
		}
		group.Lectures = append(group.Lectures, record)
	}
	return groups
}

func decorate(item *LectureModel) {
	ensureID(item)
	if item.LectureTitle == "" {
		item.LectureTitle = UntitledLecture
	}
	if item.CourseTitle == "" {
		item.CourseTitle = UntitledCourse
	}
	item.MediaRef = ExtractMediaRef(item.MediaURL)
	item.ThumbnailURL = ThumbnailURL(item.MediaRef, ThumbnailDefault)
}

// ensureID derives a stable ID for records the catalog returned without one
func ensureID(item *LectureModel) {
	if item.ID != "" {
		return
	}
	sum := sha1.Sum([]byte(item.CourseTitle + "\x00" + item.LectureTitle + "\x00" + item.MediaURL))
	item.ID = "h-" + hex.EncodeToString(sum[:6])
}
