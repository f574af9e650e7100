package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/lecture-gate/internal/infrastructure/validate"
	"github.com/pot-code/lecture-gate/internal/lecture"
)

// CatalogHandler lecture search
type CatalogHandler struct {
	lectureUseCase lecture.LectureUseCase
	validator      validate.Validator
}

// NewCatalogHandler .
func NewCatalogHandler(LectureUseCase lecture.LectureUseCase, Validator validate.Validator) *CatalogHandler {
	return &CatalogHandler{LectureUseCase, Validator}
}

// HandleSearch GET /catalog/search?query=&top_k=
func (ch *CatalogHandler) HandleSearch(c echo.Context) error {
	query := c.QueryParam("query")
	if err := ch.validator.Empty("query", query); err != nil {
		return replyInvalid(c, "Failed to validate params", err)
	}

	var topK int
	if raw := c.QueryParam("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return replyInvalid(c, "Failed to validate params", []*validate.FieldError{
				validate.NewFieldError("top_k", "top_k must be an integer"),
			})
		}
		if err := ch.validator.Var("top_k", n, "min=1,max=50"); err != nil {
			return replyInvalid(c, "Failed to validate params", err)
		}
		topK = n
	}

	result, err := ch.lectureUseCase.Search(c.Request().Context(), query, topK)
	if errors.Is(err, lecture.ErrEmptyQuery) {
		return replyInvalid(c, "Failed to validate params", []*validate.FieldError{
			validate.NewFieldError("query", err.Error()),
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
