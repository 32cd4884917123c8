package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/techshop/storefront/internal/domain/category"
)

type categoryRequest struct {
	Name     string `json:"name" binding:"required"`
	ParentID string `json:"parentId"`
}

type categoryUpdateRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parentId"`
}

type categoryResponse struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Slug      string                 `json:"slug"`
	ParentID  string                 `json:"parentId,omitempty"`
	Ancestors []category.AncestorRef `json:"ancestors"`
	Level     int                    `json:"level"`
}

func toCategoryResponse(c *category.Category) categoryResponse {
	ancestors := c.Ancestors
	if ancestors == nil {
		ancestors = []category.AncestorRef{}
	}
	return categoryResponse{
		ID:        c.ID,
		Name:      c.Name,
		Slug:      c.Slug,
		ParentID:  c.ParentID,
		Ancestors: ancestors,
		Level:     c.Level,
	}
}

type categoryNode struct {
	categoryResponse
	Children []categoryNode `json:"children"`
}

func toCategoryNodes(nodes []*category.Node) []categoryNode {
	out := make([]categoryNode, len(nodes))
	for i, n := range nodes {
		out[i] = categoryNode{
			categoryResponse: toCategoryResponse(&n.Category),
			Children:         toCategoryNodes(n.Children),
		}
	}
	return out
}

func (h *Handler) categoryTree(c *gin.Context) {
	roots, err := h.categories.Tree(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toCategoryNodes(roots))
}

func (h *Handler) getCategory(c *gin.Context) {
	cat, err := h.categories.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toCategoryResponse(cat))
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cat, err := h.categories.Create(c.Request.Context(), req.Name, req.ParentID)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, toCategoryResponse(cat))
}

func (h *Handler) updateCategory(c *gin.Context) {
	var req categoryUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Name == nil && req.ParentID == nil {
		badRequest(c, "nothing to update")
		return
	}

	cat, err := h.categories.Update(c.Request.Context(), c.Param("id"), category.UpdateRequest{
		Name:     req.Name,
		ParentID: req.ParentID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toCategoryResponse(cat))
}

func (h *Handler) deleteCategory(c *gin.Context) {
	if err := h.categories.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": true})
}
