package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/pricebook-backend/internal/domain/catalog"
	"github.com/yungbote/pricebook-backend/internal/http/response"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/platform/logger"
	"github.com/yungbote/pricebook-backend/internal/services"
)

// MaxUploadBytes bounds a single price-book upload.
const MaxUploadBytes = 256 << 20

type CatalogHandler struct {
	log    *logger.Logger
	ingest services.IngestionService
	search services.CatalogSearchService
}

func NewCatalogHandler(log *logger.Logger, ingest services.IngestionService, search services.CatalogSearchService) *CatalogHandler {
	return &CatalogHandler{
		log:    log.With("handler", "CatalogHandler"),
		ingest: ingest,
		search: search,
	}
}

// POST /api/catalog/ingest
func (h *CatalogHandler) Ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)
	year, err := strconv.Atoi(strings.TrimSpace(c.PostForm("year")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_year", err)
		return
	}
	concurrency := 0
	if raw := strings.TrimSpace(c.PostForm("concurrency")); raw != "" {
		if concurrency, err = strconv.Atoi(raw); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_concurrency", err)
			return
		}
	}
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	doc, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	job, err := h.ingest.Ingest(dbctx.From(c.Request.Context()), services.IngestionRequest{
		Document:    doc,
		Year:        year,
		Concurrency: concurrency,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_ingestion", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "ingestion_failed", err)
		return
	}
	h.log.Info("Price book upload accepted", "job_id", job.ID, "file", fh.Filename, "year", year)
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "job": job})
}

// GET /api/catalog/search?q=&k=&year=
func (h *CatalogHandler) Search(c *gin.Context) {
	k, err := optionalInt(c.Query("k"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_k", err)
		return
	}
	year, err := optionalInt(c.Query("year"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_year", err)
		return
	}
	var filter *types.Filter
	if year != 0 {
		filter = &types.Filter{Year: year}
	}
	matches, err := h.search.Search(dbctx.From(c.Request.Context()), c.Query("q"), k, filter)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "search_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"matches": matches})
}

// GET /api/catalog/items/:year/:code
func (h *CatalogHandler) GetItem(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_year", err)
		return
	}
	item, err := h.search.FindByCode(dbctx.From(c.Request.Context()), c.Param("code"), year)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_item_failed", err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"item": nil})
		return
	}
	response.RespondOK(c, gin.H{"item": item})
}

// DELETE /api/catalog/years/:year
func (h *CatalogHandler) DeleteYear(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year <= 0 {
		response.RespondError(c, http.StatusBadRequest, "invalid_year", fmt.Errorf("invalid year %q", c.Param("year")))
		return
	}
	n, err := h.search.DeleteYear(dbctx.From(c.Request.Context()), year)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "delete_year_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
