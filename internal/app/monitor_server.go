package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trades-sim/internal/monitor"
)

func startMonitorServer(ctx context.Context, svc *monitor.Service, addr string, logger *zap.Logger) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logger.Info("查询接口已启动", zap.String("addr", ln.Addr().String()))
	return serveMonitor(ctx, svc, ln, logger), nil
}

// serveMonitor 在 ln 上提供查询接口。返回的通道在服务退出后送出一次结果：
// ctx 取消后的正常关闭为 nil，其余为 Serve 的错误。
func serveMonitor(ctx context.Context, svc *monitor.Service, ln net.Listener, logger *zap.Logger) <-chan error {
	srv := &http.Server{Handler: newMonitorRouter(svc), ReadHeaderTimeout: 5 * time.Second}
	done := make(chan error, 1)
	stopped := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("关闭查询服务失败", zap.Error(err))
		}
	}()

	go func() {
		defer close(stopped)
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else {
			logger.Error("查询服务异常", zap.Error(err))
		}
		done <- err
	}()
	return done
}

// monitorHandler 提供回测记录的只读 JSON 接口。
type monitorHandler struct {
	svc *monitor.Service
}

func newMonitorRouter(svc *monitor.Service) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	h := monitorHandler{svc: svc}
	api := router.Group("/api")
	api.GET("/events", h.handleEvents)
	api.GET("/runs", h.handleRuns)
	api.GET("/runs/:id", h.handleRunDetail)
	api.GET("/runs/:id/steps", h.handleRunSteps)
	api.GET("/runs/:id/fills", h.handleRunFills)
	return router
}

func limitParam(c *gin.Context, def int) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > 1000 {
		v = 1000
	}
	return v
}

func abort(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, monitor.ErrRunNotFound) {
		code = http.StatusNotFound
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h monitorHandler) handleEvents(c *gin.Context) {
	eventType := monitor.EventType(strings.ToLower(strings.TrimSpace(c.Query("type"))))
	events, err := h.svc.ListEvents(c.Request.Context(), eventType, limitParam(c, 200))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h monitorHandler) handleRuns(c *gin.Context) {
	runs, err := h.svc.ListRuns(c.Request.Context(), limitParam(c, 50))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h monitorHandler) handleRunDetail(c *gin.Context) {
	run, err := h.svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (h monitorHandler) handleRunSteps(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.GetRun(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	steps, err := h.svc.ListSteps(c.Request.Context(), id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

func (h monitorHandler) handleRunFills(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.svc.GetRun(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	fills, err := h.svc.ListFills(c.Request.Context(), id, c.Query("instrument"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}
