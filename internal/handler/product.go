package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/domain/product"
)

type variantRequest struct {
	Color    string          `json:"color" binding:"required"`
	Capacity string          `json:"capacity" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Stock    int             `json:"stock" binding:"min=0"`
	SKU      string          `json:"sku" binding:"required"`
}

type productRequest struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	CategoryID  string           `json:"categoryId"`
	Images      []string         `json:"images"`
	Variants    []variantRequest `json:"variants" binding:"required,min=1,dive"`
}

type variantResponse struct {
	ID       string          `json:"id"`
	Color    string          `json:"color"`
	Capacity string          `json:"capacity"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	SKU      string          `json:"sku"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	CategoryID  string            `json:"categoryId,omitempty"`
	Images      []string          `json:"images"`
	Variants    []variantResponse `json:"variants"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func (h *Handler) toProductResponse(p *product.Product) productResponse {
	resp := productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CategoryID:  p.CategoryID,
		Images:      make([]string, len(p.Images)),
		Variants:    make([]variantResponse, len(p.Variants)),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for i, img := range p.Images {
		resp.Images[i] = h.imageURL(img)
	}
	for i, v := range p.Variants {
		resp.Variants[i] = variantResponse{
			ID:       v.ID,
			Color:    v.Color,
			Capacity: v.Capacity,
			Price:    v.Price,
			Stock:    v.Stock,
			SKU:      v.SKU,
		}
	}
	return resp
}

// imageURL prepends the configured base URL to relative image paths.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context(), product.Filter{
		CategoryID: c.Query("category"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]productResponse, len(products))
	for i := range products {
		out[i] = h.toProductResponse(&products[i])
	}
	respond(c, http.StatusOK, out)
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, h.toProductResponse(p))
}

func (h *Handler) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	now := time.Now()
	p := &product.Product{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Images:      req.Images,
		Variants:    make([]product.Variant, len(req.Variants)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, v := range req.Variants {
		p.Variants[i] = product.Variant{
			ID:       uuid.New().String(),
			Color:    v.Color,
			Capacity: v.Capacity,
			Price:    v.Price.Round(2),
			Stock:    v.Stock,
			SKU:      v.SKU,
		}
	}

	if err := p.ValidateVariants(); err != nil {
		writeError(c, err)
		return
	}
	if err := h.products.Create(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, h.toProductResponse(p))
}

func (h *Handler) updateProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	existing, err := h.products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.CategoryID = req.CategoryID
	existing.Images = req.Images
	existing.UpdatedAt = time.Now()

	// Variants keep their ids (and reserved stock) when the SKU is
	// unchanged; new SKUs become new variants.
	bySKU := make(map[string]product.Variant, len(existing.Variants))
	for _, v := range existing.Variants {
		bySKU[v.SKU] = v
	}
	variants := make([]product.Variant, len(req.Variants))
	for i, v := range req.Variants {
		nv := product.Variant{
			ID:       uuid.New().String(),
			Color:    v.Color,
			Capacity: v.Capacity,
			Price:    v.Price.Round(2),
			Stock:    v.Stock,
			SKU:      v.SKU,
		}
		if old, ok := bySKU[v.SKU]; ok {
			nv.ID = old.ID
			nv.Stock = old.Stock
		}
		variants[i] = nv
	}
	existing.Variants = variants

	if err := existing.ValidateVariants(); err != nil {
		writeError(c, err)
		return
	}
	if err := h.products.Update(c.Request.Context(), existing); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, h.toProductResponse(existing))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": true})
}

// uploadProductImages pushes each uploaded file to the image host and
// appends the hosted URLs to the product. Individual upload failures are
// logged and skipped so one bad file does not sink the batch.
func (h *Handler) uploadProductImages(c *gin.Context) {
	if h.images == nil {
		fail(c, http.StatusServiceUnavailable, codeInternal, "image host not configured")
		return
	}

	p, err := h.products.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form required")
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		badRequest(c, "at least one image required")
		return
	}

	lg := zctx.From(c.Request.Context())
	var uploaded []string
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			lg.Warn("Open upload failed", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		up, err := h.images.UploadImage(c.Request.Context(), fh.Filename, f)
		f.Close()
		if err != nil {
			lg.Warn("Image upload failed", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		uploaded = append(uploaded, up.SecureURL)
	}

	if len(uploaded) == 0 {
		fail(c, http.StatusBadGateway, codeInternal, "no image could be uploaded")
		return
	}

	p.Images = append(p.Images, uploaded...)
	p.UpdatedAt = time.Now()
	if err := h.products.Update(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, h.toProductResponse(p))
}
