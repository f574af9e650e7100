package lecture

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pot-code/lecture-gate/internal/infrastructure/driver"
)

// SQLLectureRepository catalog stored in the lecture table
type SQLLectureRepository struct {
	Conn driver.ITransactionalDB
}

var _ LectureRepository = &SQLLectureRepository{}

// NewSQLLectureRepository .
func NewSQLLectureRepository(Conn driver.ITransactionalDB) *SQLLectureRepository {
	return &SQLLectureRepository{
		Conn: Conn,
	}
}

// Search matches query against course and lecture titles, best score first
func (repo *SQLLectureRepository) Search(ctx context.Context, query string, topK int) ([]*LectureModel, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    l.id, l.score, l.course_title, l.lecture_title, l.media_url
FROM
    lecture l
WHERE
    lower(l.course_title) LIKE $1 ESCAPE '!'
        OR lower(l.lecture_title) LIKE $2 ESCAPE '!'
ORDER BY l.score DESC, l.id
LIMIT $3
	`, pattern, pattern, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*LectureModel
	for rows.Next() {
		item, err := scanLecture(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// Get one lecture by ID
func (repo *SQLLectureRepository) Get(ctx context.Context, id string) (*LectureModel, error) {
	rows, err := repo.Conn.QueryContext(ctx, `
SELECT
    l.id, l.score, l.course_title, l.lecture_title, l.media_url
FROM
    lecture l
WHERE
    l.id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrLectureNotFound
	}
	return scanLecture(rows)
}

func scanLecture(rows driver.ISQLRows) (*LectureModel, error) {
	item := new(LectureModel)
	var score sql.NullFloat64
	var courseTitle, lectureTitle, mediaURL sql.NullString
	if err := rows.Scan(&item.ID, &score, &courseTitle, &lectureTitle, &mediaURL); err != nil {
		return nil, err
	}
	item.Score = score.Float64
	item.CourseTitle = courseTitle.String
	item.LectureTitle = lectureTitle.String
	item.MediaURL = mediaURL.String
	return item, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
