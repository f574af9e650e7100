package lecture

import (
	"context"
	"errors"
)

// ErrLectureNotFound no catalog record with that ID
var ErrLectureNotFound = errors.New("lecture not found")

// fallback titles for records missing them
const (
	UntitledCourse  = "Untitled Course"
	UntitledLecture = "Untitled Lecture"
)

// LectureModel one catalog search hit
type LectureModel struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	CourseTitle  string  `json:"course_title"`
	LectureTitle string  `json:"lecture_title"`
	MediaURL     string  `json:"media_url,omitempty"`
	MediaRef     string  `json:"media_ref,omitempty"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}

// CourseGroup lectures of one course in search order
type CourseGroup struct {
	CourseTitle string          `json:"course_title"`
	Lectures    []*LectureModel `json:"lectures"`
}

// SearchResult grouped search hits
type SearchResult struct {
	Courses      []*CourseGroup `json:"courses"`
	LectureCount int            `json:"lecture_count"`
}

// LectureRepository catalog storage, returns records ordered by relevance
type LectureRepository interface {
	Search(ctx context.Context, query string, topK int) ([]*LectureModel, error)
	Get(ctx context.Context, id string) (*LectureModel, error)
}

// LectureUseCase catalog operations exposed to the transport layer
type LectureUseCase interface {
	Search(ctx context.Context, query string, topK int) (*SearchResult, error)
	Get(ctx context.Context, id string) (*LectureModel, error)
}
