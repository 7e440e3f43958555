package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/models"
)

// Group routes acknowledge requests without provisioning anything, so
// identity providers that push groups do not fail their sync.

func getGroup(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, models.Group{
		Schemas:     []string{models.SchemaGroup},
		ID:          id,
		DisplayName: id,
		Members:     []models.Member{},
	})
}

func listGroups(c *gin.Context) {
	startIndex, _, ok := pageParams(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.ListResponse[models.Group]{
		Schemas:    []string{models.MessageListResponse},
		StartIndex: startIndex,
		Resources:  []models.Group{},
	})
}

func createGroup(c *gin.Context) {
	group, ok := bindGroup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, group)
}

func updateGroup(c *gin.Context) {
	group, ok := bindGroup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, group)
}

func deleteGroup(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func bindGroup(c *gin.Context) (models.Group, bool) {
	var group models.Group
	if err := c.ShouldBindJSON(&group); err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusBadRequest, "invalidSyntax", "Request body is not a valid Group resource: "+err.Error())
		return models.Group{}, false
	}
	if group.Members == nil {
		group.Members = []models.Member{}
	}
	return group, true
}
