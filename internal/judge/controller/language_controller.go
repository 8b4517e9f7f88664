package controller

import (
	"context"

	"ojcore/internal/judge/client"
	pkgerrors "ojcore/pkg/errors"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// LanguageCatalog is the judge language surface used by the HTTP layer.
type LanguageCatalog interface {
	ListLanguages(ctx context.Context) ([]client.Language, error)
	RefreshLanguages(ctx context.Context) ([]client.Language, error)
}

// LanguageController serves the judge language catalog.
type LanguageController struct {
	catalog LanguageCatalog
}

// NewLanguageController creates a new controller.
func NewLanguageController(catalog LanguageCatalog) *LanguageController {
	return &LanguageController{catalog: catalog}
}

// List returns the cached catalog.
func (h *LanguageController) List(c *gin.Context) {
	languages, err := h.catalog.ListLanguages(c.Request.Context())
	if err != nil {
		response.Error(c, catalogError(err))
		return
	}
	response.Success(c, LanguageListResponse{Languages: languages})
}

// Refresh drops the cached catalog and returns a fresh copy.
func (h *LanguageController) Refresh(c *gin.Context) {
	languages, err := h.catalog.RefreshLanguages(c.Request.Context())
	if err != nil {
		response.Error(c, catalogError(err))
		return
	}
	response.SuccessWithMessage(c, "Language catalog refreshed", LanguageListResponse{Languages: languages})
}

type LanguageListResponse struct {
	Languages []client.Language `json:"languages"`
}

func catalogError(err error) error {
	if _, ok := pkgerrors.As(err); ok {
		return err
	}
	return pkgerrors.Wrapf(err, pkgerrors.JudgeExecutionFailed, "judge language catalog unavailable")
}
