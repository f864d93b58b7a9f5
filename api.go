package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	apiSha1Regex     = regexp.MustCompile("^[a-f0-9]{40}$")
	logoFileRegex    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.[a-z]{3,4}$`)
	maxChunkPayload  = int64(8 * 1024 * 1024)
	maxDirectPayload = int64(16 * 1024 * 1024)
)

type API struct {
	storage   *Storage
	assembler *Assembler
	logos     *LogoResolver
	mirror    *Mirror
	apiKey    string
}

func NewAPI(storage *Storage, assembler *Assembler, logos *LogoResolver, mirror *Mirror, apiKey string) *API {
	return &API{
		storage:   storage,
		assembler: assembler,
		logos:     logos,
		mirror:    mirror,
		apiKey:    apiKey,
	}
}

func (a *API) RegisterRoutes(router *gin.Engine) {
	// Asset and logo delivery stay public; the portfolio page reads them.
	router.GET("/health", a.health)
	router.GET("/api/file/:sha1", a.getFile)
	router.GET("/logos/:file", a.getLogoFile)

	api := router.Group("/api")
	api.Use(a.authMiddleware())

	api.POST("/store", a.storeFile)
	api.POST("/store/chunk", a.storeChunk)
	api.GET("/logo", a.resolveLogo)
	api.GET("/exists/:sha1", a.checkExists)
	api.POST("/mirror", a.mirrorAssets)
}

func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey != a.apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// storeFile is the direct path for files small enough for one request.
func (a *API) storeFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadFailure("No file provided"))
		return
	}
	defer file.Close()

	if header.Size > maxDirectPayload {
		c.JSON(http.StatusRequestEntityTooLarge, uploadFailure("File too large for direct upload, use chunked upload"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	sha1Hash, size, err := a.storage.Store(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, uploadFailure(err.Error()))
		return
	}

	asset := Asset{
		SHA1:        sha1Hash,
		FileName:    header.Filename,
		ContentType: contentType,
		MediaKind:   ResolveMediaKind(contentType),
		Size:        size,
	}
	if err := AddAsset(asset); err != nil {
		c.JSON(http.StatusInternalServerError, uploadFailure(err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "url": "/api/file/" + sha1Hash})
}

// storeChunk receives one chunk of a chunked upload. Only the final
// chunk's response carries a URL.
func (a *API) storeChunk(c *gin.Context) {
	uploadID := strings.TrimSpace(c.PostForm("uploadId"))
	if uploadID == "" {
		c.JSON(http.StatusBadRequest, uploadFailure("uploadId is required"))
		return
	}

	chunkIndex, err := strconv.Atoi(c.PostForm("chunkIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadFailure("chunkIndex must be an integer"))
		return
	}
	totalChunks, err := strconv.Atoi(c.PostForm("totalChunks"))
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadFailure("totalChunks must be an integer"))
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadFailure("No chunk payload provided"))
		return
	}
	defer file.Close()

	if header.Size > maxChunkPayload {
		c.JSON(http.StatusRequestEntityTooLarge, uploadFailure("Chunk exceeds maximum size"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, uploadFailure("Failed to read chunk payload"))
		return
	}

	result, err := a.assembler.AcceptChunk(ChunkRequest{
		UploadID:    uploadID,
		Index:       chunkIndex,
		TotalChunks: totalChunks,
		FileName:    c.PostForm("fileName"),
		ContentType: c.PostForm("contentType"),
		Data:        data,
	})
	if err != nil {
		c.JSON(chunkErrorStatus(err), uploadFailure(err.Error()))
		return
	}

	if result.Final {
		c.JSON(http.StatusOK, gin.H{"success": true, "url": result.URL})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func chunkErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrChunkOutOfRange), errors.Is(err, ErrChunkMismatch), errors.Is(err, ErrChunkMissing):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, ErrSessionFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func uploadFailure(message string) gin.H {
	return gin.H{"success": false, "message": message}
}

type logoResponse struct {
	URL    string `json:"url"`
	Cached bool   `json:"cached,omitempty"`
	Source string `json:"source,omitempty"`
}

func (a *API) resolveLogo(c *gin.Context) {
	org := strings.TrimSpace(c.Query("org"))
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org parameter is required"})
		return
	}

	result, err := a.logos.Resolve(org)
	if err != nil {
		if errors.Is(err, ErrLogoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no logo found", "details": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "logo resolution failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, logoResponse{URL: result.URL, Cached: result.Cached, Source: result.Source})
}

func (a *API) getFile(c *gin.Context) {
	sha1Hash := c.Param("sha1")
	if !apiSha1Regex.MatchString(sha1Hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SHA1 hash format"})
		return
	}

	asset, err := GetAsset(sha1Hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	file, err := a.storage.Retrieve(sha1Hash)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	defer file.Close()

	c.Header("Content-Type", asset.ContentType)
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", asset.FileName))
	if _, err := io.Copy(c.Writer, file); err != nil {
		return
	}
}

func (a *API) getLogoFile(c *gin.Context) {
	name := c.Param("file")
	if !logoFileRegex.MatchString(name) || name != filepath.Base(name) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid logo file name"})
		return
	}
	c.File(filepath.Join(a.storage.LogoDir(), name))
}

func (a *API) checkExists(c *gin.Context) {
	sha1Hash := c.Param("sha1")
	if !apiSha1Regex.MatchString(sha1Hash) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SHA1 hash format"})
		return
	}

	exists, err := AssetExists(sha1Hash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": exists && a.storage.Exists(sha1Hash)})
}

func (a *API) mirrorAssets(c *gin.Context) {
	if a.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mirroring is not configured"})
		return
	}

	stats, err := a.mirror.Sweep()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
