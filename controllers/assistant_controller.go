package controllers

import (
	"net/http"

	"toolcustody/app"
	"toolcustody/assistant"

	"github.com/gin-gonic/gin"
)

// POST /api/assistant/query {"query":"..."}
func (s *Srv) AskAssistant(c *gin.Context) {
	var in struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "query is required"})
		return
	}
	answer := s.Assistant.Ask(c.Request.Context(), in.Query, assistant.Summaries(s.Custody.List()))
	c.JSON(http.StatusOK, app.H{"answer": answer})
}

// GET /api/addresses?q=
func (s *Srv) SuggestAddresses(c *gin.Context) {
	c.JSON(http.StatusOK, app.H{"items": s.Addresses.Suggest(c.Request.Context(), c.Query("q"))})
}
