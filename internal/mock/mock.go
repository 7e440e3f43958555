// Package mock emulates the subset of the mailcow API used by the bridge:
// add, edit, rename, delete and get mailbox. State is kept in memory.
package mock

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// API paths relative to the /api/v1 prefix.
const (
	PathAdd    = "add/mailbox"
	PathEdit   = "edit/mailbox"
	PathRename = "edit/rename-mbox"
	PathDelete = "delete/mailbox"
	PathGet    = "get/mailbox"
)

// Mailbox is a stored mailbox as returned by get/mailbox.
type Mailbox struct {
	Username   string   `json:"username"`
	Name       string   `json:"name"`
	Domain     string   `json:"domain"`
	LocalPart  string   `json:"local_part"`
	Active     int      `json:"active"`
	Quota      int64    `json:"quota"`
	AuthSource string   `json:"authsource"`
	Tags       []string `json:"tags"`
}

type result struct {
	Type string `json:"type"`
	Log  []any  `json:"log,omitempty"`
	Msg  any    `json:"msg"`
}

// Server holds the emulated mailboxes keyed by address.
type Server struct {
	apiKey string

	mu        sync.RWMutex
	mailboxes map[string]Mailbox
	failing   map[string]bool
}

func NewServer(apiKey string) *Server {
	return &Server{
		apiKey:    apiKey,
		mailboxes: make(map[string]Mailbox),
		failing:   make(map[string]bool),
	}
}

// Fail makes every later request to path answer with a danger result
// until Recover is called.
func (s *Server) Fail(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = true
}

func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, path)
}

// Mailbox returns a copy of the mailbox stored under address.
func (s *Server) Mailbox(address string) (Mailbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mb, ok := s.mailboxes[strings.ToLower(address)]
	return mb, ok
}

// Addresses returns every stored address in sorted order.
func (s *Server) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addresses := make([]string, 0, len(s.mailboxes))
	for address := range s.mailboxes {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

// Handler returns a gin engine serving the API under /api/v1.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	s.Register(r)
	return r
}

// Register mounts the API routes on r.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api/v1", s.authenticate)
	{
		api.POST("/"+PathAdd, s.failable(PathAdd, s.handleAdd))
		api.POST("/"+PathEdit, s.failable(PathEdit, s.handleEdit))
		api.POST("/"+PathRename, s.failable(PathRename, s.handleRename))
		api.POST("/"+PathDelete, s.failable(PathDelete, s.handleDelete))
		api.GET("/"+PathGet+"/:id", s.handleGet)
		api.POST("/"+PathGet+"/:id", s.handleGet)
	}
}

func (s *Server) authenticate(c *gin.Context) {
	if s.apiKey != "" && c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"type": "error", "msg": "authentication failed"})
		return
	}
	c.Next()
}

func (s *Server) failable(path string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		failing := s.failing[path]
		s.mu.RUnlock()
		if failing {
			c.JSON(http.StatusOK, []result{danger("injected failure", path)})
			return
		}
		next(c)
	}
}

func success(msg ...any) result {
	return result{Type: "success", Msg: msg}
}

func danger(msg ...any) result {
	return result{Type: "danger", Msg: msg}
}

func (s *Server) handleAdd(c *gin.Context) {
	var req struct {
		Active     string   `json:"active"`
		Domain     string   `json:"domain"`
		LocalPart  string   `json:"local_part"`
		Name       string   `json:"name"`
		AuthSource string   `json:"authsource"`
		Quota      string   `json:"quota"`
		Tags       []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, []result{danger("invalid_request", err.Error())})
		return
	}
	if req.LocalPart == "" || req.Domain == "" {
		c.JSON(http.StatusOK, []result{danger("mailbox_invalid")})
		return
	}

	address := strings.ToLower(req.LocalPart + "@" + req.Domain)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mailboxes[address]; exists {
		c.JSON(http.StatusOK, []result{danger("object_exists", address)})
		return
	}

	quota, _ := strconv.ParseInt(req.Quota, 10, 64)
	s.mailboxes[address] = Mailbox{
		Username:   address,
		Name:       req.Name,
		Domain:     strings.ToLower(req.Domain),
		LocalPart:  strings.ToLower(req.LocalPart),
		Active:     activeFlag(req.Active, 1),
		Quota:      quota,
		AuthSource: req.AuthSource,
		Tags:       req.Tags,
	}
	c.JSON(http.StatusOK, []result{success("mailbox_added", address)})
}

type itemsRequest struct {
	Attr  map[string]any `json:"attr"`
	Items []string       `json:"items"`
}

func (s *Server) handleEdit(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		c.JSON(http.StatusOK, []result{danger("invalid_request")})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]result, 0, len(req.Items))
	for _, item := range req.Items {
		address := strings.ToLower(item)
		mb, ok := s.mailboxes[address]
		if !ok {
			results = append(results, danger("access_denied", item))
			continue
		}
		if v, ok := req.Attr["active"]; ok {
			mb.Active = activeFlag(fmt.Sprint(v), mb.Active)
		}
		if v, ok := req.Attr["name"].(string); ok {
			mb.Name = v
		}
		if v, ok := req.Attr["tags"].([]any); ok {
			mb.Tags = nil
			for _, tag := range v {
				mb.Tags = append(mb.Tags, fmt.Sprint(tag))
			}
		}
		s.mailboxes[address] = mb
		results = append(results, success("mailbox_modified", address))
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleRename(c *gin.Context) {
	var req itemsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) != 1 {
		c.JSON(http.StatusOK, []result{danger("invalid_request")})
		return
	}
	domain, _ := req.Attr["domain"].(string)
	newLocalPart, _ := req.Attr["new_local_part"].(string)
	if domain == "" || newLocalPart == "" {
		c.JSON(http.StatusOK, []result{danger("mailbox_invalid")})
		return
	}

	oldAddress := strings.ToLower(req.Items[0])
	newAddress := strings.ToLower(newLocalPart + "@" + domain)

	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[oldAddress]
	if !ok {
		c.JSON(http.StatusOK, []result{danger("access_denied", oldAddress)})
		return
	}
	if _, taken := s.mailboxes[newAddress]; taken {
		c.JSON(http.StatusOK, []result{danger("object_exists", newAddress)})
		return
	}

	delete(s.mailboxes, oldAddress)
	mb.Username = newAddress
	mb.LocalPart = strings.ToLower(newLocalPart)
	mb.Domain = strings.ToLower(domain)
	s.mailboxes[newAddress] = mb
	c.JSON(http.StatusOK, []result{success("mailbox_renamed", newAddress, oldAddress)})
}

func (s *Server) handleDelete(c *gin.Context) {
	var items []string
	if err := c.ShouldBindJSON(&items); err != nil || len(items) == 0 {
		c.JSON(http.StatusOK, []result{danger("invalid_request")})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]result, 0, len(items))
	for _, item := range items {
		address := strings.ToLower(item)
		if _, ok := s.mailboxes[address]; !ok {
			results = append(results, danger("access_denied", item))
			continue
		}
		delete(s.mailboxes, address)
		results = append(results, success("mailbox_removed", address))
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleGet(c *gin.Context) {
	mb, ok := s.Mailbox(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, mb)
}

func activeFlag(v string, fallback int) int {
	switch strings.ToLower(v) {
	case "1", "true":
		return 1
	case "0", "false":
		return 0
	}
	return fallback
}
