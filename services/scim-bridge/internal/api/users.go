package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stoik/mailbridge/internal/models"
)

const defaultCount = 100

type userHandler struct {
	users Users
}

func (h *userHandler) get(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeProvisioningError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *userHandler) list(c *gin.Context) {
	startIndex, count, ok := pageParams(c)
	if !ok {
		return
	}
	page, err := h.users.List(c.Request.Context(), startIndex, count)
	if err != nil {
		writeProvisioningError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *userHandler) create(c *gin.Context) {
	user, ok := bindUser(c)
	if !ok {
		return
	}
	created, err := h.users.Create(c.Request.Context(), user)
	if err != nil {
		writeProvisioningError(c, err)
		return
	}
	if created.Meta != nil {
		c.Header("Location", created.Meta.Location)
	}
	c.JSON(http.StatusCreated, created)
}

func (h *userHandler) update(c *gin.Context) {
	user, ok := bindUser(c)
	if !ok {
		return
	}
	updated, err := h.users.Update(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		writeProvisioningError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *userHandler) delete(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeProvisioningError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindUser(c *gin.Context) (models.User, bool) {
	var user models.User
	if err := c.ShouldBindJSON(&user); err != nil {
		_ = c.Error(err)
		writeError(c, http.StatusBadRequest, "invalidSyntax", "Request body is not a valid User resource: "+err.Error())
		return models.User{}, false
	}
	return user, true
}

// pageParams reads startIndex (or the older index) and count.
func pageParams(c *gin.Context) (startIndex, count int, ok bool) {
	startIndex, count = 1, defaultCount

	raw := c.Query("startIndex")
	if raw == "" {
		raw = c.Query("index")
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalidSyntax", "startIndex must be an integer")
			return 0, 0, false
		}
		startIndex = n
	}
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalidSyntax", "count must be an integer")
			return 0, 0, false
		}
		count = n
	}
	return startIndex, count, true
}
