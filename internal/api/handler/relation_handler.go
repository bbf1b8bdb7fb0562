package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/feedsync/pkg/response"
)

type pageQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=10" binding:"min=1,max=100"`
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/{user_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	list, err := h.relations.Following(c.Request.Context(), c.Param("user_id"), q.Page, q.PageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": q.Page, "page_size": q.PageSize, "list": list})
}

// ListFans 查询某用户的粉丝
// @Summary 查询粉丝列表（来自冗余表）
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/{user_id}/fans [get]
func (h *Handler) ListFans(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	list, err := h.relations.Followers(c.Request.Context(), c.Param("user_id"), q.Page, q.PageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": q.Page, "page_size": q.PageSize, "list": list})
}

// CheckFollowing 查询 A 是否关注 B
// @Summary 是否关注
// @Tags 关系链
// @Param user_id path string true "用户ID"
// @Param target_id path string true "目标用户ID"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{user_id}/following/{target_id} [get]
func (h *Handler) CheckFollowing(c *gin.Context) {
	ok, err := h.relations.IsFollowing(c.Request.Context(), c.Param("user_id"), c.Param("target_id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"following": ok})
}
