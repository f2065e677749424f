package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/waxlog/internal/albums"
	"github.com/MarcoPoloResearchLab/waxlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/waxlog/internal/catalog"
	"github.com/MarcoPoloResearchLab/waxlog/internal/ratings"
	"github.com/gin-gonic/gin"
)

const opCatalogID = "http.catalog_id"

func (h *httpHandler) handleCatalogSearch(c *gin.Context) {
	if h.catalog == nil {
		h.respondError(c, catalogNotConfigured())
		return
	}
	results, err := h.catalog.SearchAlbums(c.Request.Context(), c.Query("query"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if results == nil {
		results = []catalog.Album{}
	}
	c.JSON(http.StatusOK, gin.H{"albums": results})
}

func (h *httpHandler) handleCatalogTracks(c *gin.Context) {
	if h.catalog == nil {
		h.respondError(c, catalogNotConfigured())
		return
	}
	catalogID, ok := h.catalogIDParam(c)
	if !ok {
		return
	}
	tracks, err := h.catalog.AlbumTracks(c.Request.Context(), catalogID.String())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if tracks == nil {
		tracks = []catalog.Track{}
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (h *httpHandler) handleEnsureAlbum(c *gin.Context) {
	var request albumRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	album, created, err := h.albums.GetOrCreate(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toAlbumPayload(album))
}

func (h *httpHandler) handleGetAlbum(c *gin.Context) {
	catalogID, ok := h.catalogIDParam(c)
	if !ok {
		return
	}
	album, err := h.albums.Get(c.Request.Context(), catalogID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlbumPayload(album))
}

func (h *httpHandler) handleListLogs(c *gin.Context) {
	views, err := h.ratings.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]logResponsePayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, toLogPayload(view))
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (h *httpHandler) handleSubmitLog(c *gin.Context) {
	var request logCreatePayload
	if !h.bindJSON(c, &request) {
		return
	}
	catalogID := request.AlbumID
	if request.Album != nil {
		album, _, err := h.albums.GetOrCreate(c.Request.Context(), request.Album.input())
		if err != nil {
			h.respondError(c, err)
			return
		}
		catalogID = album.CatalogID
	}

	view, err := h.ratings.Submit(c.Request.Context(), ratings.SubmitRequest{
		UserID:        currentUserID(c),
		CatalogID:     albums.CatalogID(catalogID),
		Rating:        request.Rating,
		Review:        request.Review,
		ListenDate:    request.ListenDate,
		FavoriteTrack: request.FavoriteTrack,
		Relisten:      request.Relisten,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toLogPayload(view))
}

func (h *httpHandler) handleGetLog(c *gin.Context) {
	view, err := h.ratings.Get(c.Request.Context(), c.Param("log_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLogPayload(view))
}

func (h *httpHandler) handleUpdateLog(c *gin.Context) {
	var request logUpdatePayload
	if !h.bindJSON(c, &request) {
		return
	}
	view, err := h.ratings.Update(c.Request.Context(), c.Param("log_id"), currentUserID(c), request.changes())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toLogPayload(view))
}

func (h *httpHandler) handleDeleteLog(c *gin.Context) {
	if err := h.ratings.Delete(c.Request.Context(), c.Param("log_id"), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) catalogIDParam(c *gin.Context) (albums.CatalogID, bool) {
	catalogID, err := albums.NewCatalogID(c.Param("catalog_id"))
	if err != nil {
		h.respondError(c, apperr.Validation(opCatalogID, "invalid_catalog_id", "catalog id is invalid").
			WithDetails(map[string]string{"catalog_id": "is invalid"}))
		return "", false
	}
	return catalogID, true
}
