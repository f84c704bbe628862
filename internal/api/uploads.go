package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	maxUploadBytes = 10 << 20 // 10 MB
	defaultFolder  = "general"
)

var allowedContentTypes = []string{
	"image/",
	"audio/",
	"video/webm",
	"application/ogg",
	"application/pdf",
	"text/plain",
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

func isAllowedContentType(ct string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(ct, allowed) {
			return true
		}
	}
	return false
}

// safeName replaces every character outside [a-zA-Z0-9.-] with "_".
func safeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

func safeFolder(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return defaultFolder
	}
	folder = safeName(folder)
	if strings.Trim(folder, ".") == "" {
		return defaultFolder
	}
	return folder
}

func (h *Handler) uploadFile(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	folder := safeFolder(c.PostForm("folder"))
	destDir := filepath.Join(h.fileBase, folder)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		h.logger.Error("create upload directory", "dir", destDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process upload"})
		return
	}
	name := uniqueFileName(destDir, safeName(filepath.Base(file.Filename)))
	if err := c.SaveUploadedFile(file, filepath.Join(destDir, name)); err != nil {
		h.logger.Error("save upload", "file", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process upload"})
		return
	}
	h.logger.Info("file uploaded", "folder", folder, "file", name, "mime", contentType, "size", file.Size)
	c.JSON(http.StatusOK, gin.H{"url": h.fileURL + "/" + folder + "/" + name})
}

// uniqueFileName prefixes name with the current unix milliseconds, adding a
// counter if a file with that name already exists in dir.
func uniqueFileName(dir, name string) string {
	stamp := time.Now().UnixMilli()
	candidate := fmt.Sprintf("%d-%s", stamp, name)
	for idx := 1; idx <= 1000; idx++ {
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%d-%d-%s", stamp, idx, name)
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), name)
}
