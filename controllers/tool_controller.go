// controllers/tool_controller.go
package controllers

import (
	"errors"
	"io"
	"net/http"

	"toolcustody/app"
	"toolcustody/custody"
	"toolcustody/models"

	"github.com/gin-gonic/gin"
)

type ToolController struct{ *Srv }

func NewToolController(s *Srv) *ToolController { return &ToolController{Srv: s} }

// GET /api/tools?status=&category=
func (tc *ToolController) ListTools(c *gin.Context) {
	status := models.ToolStatus(c.Query("status"))
	category := c.Query("category")
	all := tc.Custody.List()
	out := make([]models.Tool, 0, len(all))
	for _, t := range all {
		if status != "" && t.Status != status {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, t)
	}
	c.JSON(http.StatusOK, app.H{"items": out})
}

func (tc *ToolController) GetTool(c *gin.Context) {
	t, err := tc.Custody.Get(c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// 空 body 可以；格式错误的 body 返回 400
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid request body"})
		return false
	}
	return true
}

// 借出：body 里的 site/comment/photo 都可选
func (tc *ToolController) BookOut(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var d custody.Details
	if !bindOptionalJSON(c, &d) {
		return
	}

	t, err := tc.Custody.BookOut(c.Request.Context(), sess.User, c.Param("id"), d)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// 归还
func (tc *ToolController) Return(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var d custody.Details
	if !bindOptionalJSON(c, &d) {
		return
	}

	t, err := tc.Custody.Return(c.Request.Context(), sess.User, c.Param("id"), d)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// 管理员/经理新建工具
func (tc *ToolController) CreateTool(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var in custody.NewTool
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	t, err := tc.Custody.CreateTool(c.Request.Context(), sess.User, in)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (tc *ToolController) PatchTool(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var p custody.DetailsPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	t, err := tc.Custody.UpdateDetails(c.Request.Context(), sess.User, c.Param("id"), p)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PUT /api/tools/:id/status  {"status":"UNDER_REPAIR","comment":"..."}
func (tc *ToolController) SetStatus(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	var in struct {
		Status  models.ToolStatus `json:"status" binding:"required"`
		Comment *string           `json:"comment"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "status is required"})
		return
	}
	t, err := tc.Custody.SetStatus(c.Request.Context(), sess.User, c.Param("id"), in.Status, in.Comment)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// 普通用户：查看自己手上正在借着的工具
func (tc *ToolController) MyBookings(c *gin.Context) {
	sess, ok := mustSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, app.H{"items": tc.Custody.BookedOutBy(sess.User.ID)})
}

func (tc *ToolController) AllBookings(c *gin.Context) {
	c.JSON(http.StatusOK, app.H{"items": tc.Custody.AllBookings()})
}

func (tc *ToolController) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, tc.Custody.Summary())
}
