package server

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// ExportAudit streams every stored threat as gzip-compressed NDJSON, one
// threat per line, oldest first. The export is a point-in-time snapshot;
// threats recorded during the download are not included.
func (h *handlers) ExportAudit(c *gin.Context) {
	threats := h.deps.Store.Snapshot()

	filename := "warden-audit-" + time.Now().UTC().Format("20060102-150405") + ".ndjson.gz"
	c.Header("Content-Type", "application/gzip")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	defer gz.Close()

	for _, t := range threats {
		line, err := sonic.Marshal(t)
		if err != nil {
			h.logger.Warn("audit encode failed", zap.String("id", t.ID), zap.Error(err))
			continue
		}
		if _, err := gz.Write(append(line, '\n')); err != nil {
			// Client went away mid-download.
			return
		}
	}
}
