package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/d60-Lab/feedsync/internal/remote"
	"github.com/d60-Lab/feedsync/pkg/logger"
	"github.com/d60-Lab/feedsync/pkg/response"
)

const writeWait = 10 * time.Second

func filterOf(c *gin.Context) remote.Filter {
	q := c.Request.URL.Query()
	if len(q) == 0 {
		return nil
	}
	f := make(remote.Filter, len(q))
	for col, vals := range q {
		f[col] = vals[0]
	}
	return f
}

func tableOf(c *gin.Context) (remote.Table, bool) {
	t, err := remote.ParseTable(c.Param("table"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return "", false
	}
	return t, true
}

// QueryRows 按等值条件查询表
// @Summary 查询行
// @Tags 表
// @Produce json
// @Param table path string true "表名"
// @Success 200 {object} response.Response{data=[]map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/tables/{table} [get]
func (h *Handler) QueryRows(c *gin.Context) {
	table, ok := tableOf(c)
	if !ok {
		return
	}
	rows, err := h.store.Query(c.Request.Context(), table, filterOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if rows == nil {
		rows = []remote.Row{}
	}
	response.Success(c, rows)
}

// InsertRow 插入一行，返回服务端补全后的行（id、created_at）
// @Summary 插入行
// @Tags 表
// @Accept json
// @Produce json
// @Param table path string true "表名"
// @Param row body map[string]interface{} true "行"
// @Success 201 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/tables/{table} [post]
func (h *Handler) InsertRow(c *gin.Context) {
	table, ok := tableOf(c)
	if !ok {
		return
	}
	var row remote.Row
	if err := c.ShouldBindJSON(&row); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	committed, err := h.store.Insert(c.Request.Context(), table, row)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, committed)
}

// UpdateRow 合并更新一行
// @Summary 更新行
// @Tags 表
// @Accept json
// @Produce json
// @Param table path string true "表名"
// @Param id path string true "行ID"
// @Param patch body map[string]interface{} true "补丁"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/tables/{table}/{id} [patch]
func (h *Handler) UpdateRow(c *gin.Context) {
	table, ok := tableOf(c)
	if !ok {
		return
	}
	var patch remote.Row
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.store.Update(c.Request.Context(), table, c.Param("id"), patch); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteRow 删除一行；不存在时同样成功
// @Summary 删除行
// @Tags 表
// @Param table path string true "表名"
// @Param id path string true "行ID"
// @Success 200 {object} response.Response
// @Router /api/v1/tables/{table}/{id} [delete]
func (h *Handler) DeleteRow(c *gin.Context) {
	table, ok := tableOf(c)
	if !ok {
		return
	}
	if err := h.store.Delete(c.Request.Context(), table, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Changes 升级为 websocket，逐帧推送该表已提交的变更（JSON）；空帧为保活。
// @Summary 订阅变更
// @Tags 表
// @Param table path string true "表名"
// @Success 101
// @Router /api/v1/tables/{table}/changes [get]
func (h *Handler) Changes(c *gin.Context) {
	table, ok := tableOf(c)
	if !ok {
		return
	}
	// the request context is not cancelled when a hijacked client goes away
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.store.Subscribe(ctx, table, filterOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("table", string(table)), zap.Error(err))
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("change stream closed", zap.String("table", string(table)), zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
