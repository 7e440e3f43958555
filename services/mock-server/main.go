package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/mock"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	apiKey := os.Getenv("MOCK_API_KEY")

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if apiKey == "" {
		logger.Warn("MOCK_API_KEY not set, accepting any API key")
	}

	server := mock.NewServer(apiKey)

	r := gin.Default()

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server.Register(r)

	// Admin endpoints for testing
	admin := r.Group("/admin")
	{
		admin.GET("/mailboxes", func(c *gin.Context) {
			c.JSON(http.StatusOK, server.Addresses())
		})
		admin.POST("/fail/*path", func(c *gin.Context) {
			server.Fail(trimPath(c.Param("path")))
			c.Status(http.StatusNoContent)
		})
		admin.DELETE("/fail/*path", func(c *gin.Context) {
			server.Recover(trimPath(c.Param("path")))
			c.Status(http.StatusNoContent)
		})
	}

	addr := fmt.Sprintf(":%s", port)
	logger.Info("starting mock mailbox API", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func trimPath(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
