package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nexcrm/mailgate/internal/orchestrator"
)

// Server exposes the mail engine over REST.
type Server struct {
	orch      *orchestrator.Orchestrator
	logger    *logrus.Logger
	authToken string
	router    *gin.Engine
}

// NewServer builds the router. An empty authToken disables authentication.
func NewServer(orch *orchestrator.Orchestrator, logger *logrus.Logger, authToken string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		orch:      orch,
		logger:    logger,
		authToken: authToken,
		router:    gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())

	mail := s.router.Group("/api/mail")
	if authToken != "" {
		mail.Use(s.bearerAuth())
	}

	mail.POST("/discover", s.handleDiscover)
	mail.POST("/test-connection", s.handleTestConnection)

	mail.GET("/accounts", s.handleListAccounts)
	mail.POST("/accounts", s.handleAddAccount)
	mail.GET("/accounts/:id", s.handleGetAccount)
	mail.PATCH("/accounts/:id", s.handleUpdateAccount)
	mail.DELETE("/accounts/:id", s.handleDeleteAccount)

	mail.GET("/accounts/:id/folders", s.handleListFolders)
	mail.GET("/accounts/:id/folders/:folderId/messages", s.handleListMessages)
	mail.GET("/accounts/:id/folders/:folderId/messages/:messageId", s.handleGetMessage)
	mail.GET("/accounts/:id/folders/:folderId/messages/:messageId/attachments/:attachmentId", s.handleGetAttachment)

	mail.PATCH("/accounts/:id/messages/:messageId/read", s.handleMarkRead)
	mail.PATCH("/accounts/:id/messages/:messageId/star", s.handleMarkStarred)
	mail.PATCH("/accounts/:id/messages/:messageId/move", s.handleMoveMessage)
	mail.DELETE("/accounts/:id/messages/:messageId", s.handleDeleteMessage)

	mail.POST("/accounts/:id/drafts", s.handleSaveDraft)
	mail.POST("/send", s.handleSend)

	mail.GET("/accounts/:id/search", s.handleSearch)
	mail.GET("/search", s.handleSearchCached)

	mail.GET("/accounts/:id/sync/status", s.handleSyncStatus)
	mail.POST("/accounts/:id/sync", s.handleTriggerSync)
	mail.GET("/sync/status", s.handleAllSyncStatuses)
	mail.POST("/sync", s.handleSyncAll)

	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("Request handled")
	}
}

func (s *Server) bearerAuth() gin.HandlerFunc {
	expected := "Bearer " + s.authToken
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
