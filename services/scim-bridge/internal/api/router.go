// Package api serves the SCIM 2.0 HTTP surface of the bridge.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stoik/mailbridge/internal/models"
)

// Users is the provisioning surface behind the /Users routes.
type Users interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	Get(ctx context.Context, id string) (models.User, error)
	List(ctx context.Context, startIndex, count int) (models.ListResponse[models.User], error)
	Update(ctx context.Context, id string, user models.User) (models.User, error)
	Delete(ctx context.Context, id string) error
}

// Options configures NewRouter.
type Options struct {
	// Token is the expected bearer credential for SCIM resource routes.
	Token string

	Users    Users
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the gin engine. Resource routes require the bearer
// token; health, metrics and capability discovery are public.
func NewRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(opts.Logger), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "running"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})))
	router.GET("/ServiceProviderConfig", serviceProviderConfig)

	users := &userHandler{users: opts.Users}
	scim := router.Group("/", requireBearer(opts.Token))
	{
		scim.GET("/Users", users.list)
		scim.POST("/Users", users.create)
		scim.GET("/Users/:id", users.get)
		scim.PUT("/Users/:id", users.update)
		scim.DELETE("/Users/:id", users.delete)

		scim.GET("/Groups", listGroups)
		scim.POST("/Groups", createGroup)
		scim.GET("/Groups/:id", getGroup)
		scim.PUT("/Groups/:id", updateGroup)
		scim.DELETE("/Groups/:id", deleteGroup)
	}

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "notFound", "Resource not found")
	})

	return router
}
