package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/waxlog/internal/lists"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListFavorites(c *gin.Context) {
	views, err := h.favorites.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]favoriteResponsePayload, 0, len(views))
	for _, view := range views {
		payload = append(payload, toFavoritePayload(view))
	}
	c.JSON(http.StatusOK, gin.H{"favorites": payload})
}

func (h *httpHandler) handleAddFavorite(c *gin.Context) {
	var request albumRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	view, created, err := h.favorites.Add(c.Request.Context(), currentUserID(c), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toFavoritePayload(view))
}

func (h *httpHandler) handleRemoveFavorite(c *gin.Context) {
	catalogID, ok := h.catalogIDParam(c)
	if !ok {
		return
	}
	if err := h.favorites.Remove(c.Request.Context(), currentUserID(c), catalogID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListLists(c *gin.Context) {
	summaries, err := h.lists.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]listResponsePayload, 0, len(summaries))
	for _, summary := range summaries {
		payload = append(payload, toListPayload(summary.List, summary.EntryCount))
	}
	c.JSON(http.StatusOK, gin.H{"lists": payload})
}

func (h *httpHandler) handleCreateList(c *gin.Context) {
	var request listCreatePayload
	if !h.bindJSON(c, &request) {
		return
	}
	list, err := h.lists.Create(c.Request.Context(), currentUserID(c), request.Title, request.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toListPayload(list, 0))
}

func (h *httpHandler) handleGetList(c *gin.Context) {
	detail, err := h.lists.Get(c.Request.Context(), c.Param("list_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListDetailPayload(detail))
}

func (h *httpHandler) handleUpdateList(c *gin.Context) {
	var request listUpdatePayload
	if !h.bindJSON(c, &request) {
		return
	}
	listID := c.Param("list_id")
	ownerID := currentUserID(c)
	if _, err := h.lists.Update(c.Request.Context(), listID, ownerID, lists.Changes{
		Title:       request.Title,
		Description: request.Description,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	detail, err := h.lists.Get(c.Request.Context(), listID, ownerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toListDetailPayload(detail))
}

func (h *httpHandler) handleDeleteList(c *gin.Context) {
	if err := h.lists.Delete(c.Request.Context(), c.Param("list_id"), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddListAlbum(c *gin.Context) {
	var request albumRequestPayload
	if !h.bindJSON(c, &request) {
		return
	}
	entry, alreadyPresent, err := h.lists.AddAlbum(c.Request.Context(), c.Param("list_id"), currentUserID(c), request.input())
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := toEntryPayload(entry)
	payload.AlreadyPresent = alreadyPresent
	status := http.StatusCreated
	if alreadyPresent {
		status = http.StatusOK
	}
	c.JSON(status, payload)
}

func (h *httpHandler) handleRemoveListEntry(c *gin.Context) {
	if err := h.lists.RemoveEntry(c.Request.Context(), c.Param("list_id"), currentUserID(c), c.Param("entry_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUpdateRanks(c *gin.Context) {
	var request []rankPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, decodeError(err))
		return
	}
	updates := make([]lists.RankUpdate, 0, len(request))
	for _, item := range request {
		updates = append(updates, lists.RankUpdate{EntryID: item.ID, Rank: item.Rank})
	}
	entries, err := h.lists.UpdateRanks(c.Request.Context(), c.Param("list_id"), currentUserID(c), updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": toEntryPayloads(entries)})
}

func (h *httpHandler) handleCompactRanks(c *gin.Context) {
	entries, err := h.lists.CompactRanks(c.Request.Context(), c.Param("list_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": toEntryPayloads(entries)})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	report, err := h.stats.Report(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatsPayload(report))
}
