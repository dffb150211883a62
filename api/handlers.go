package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/browserwing/testingdriver/config"
	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/driver"
	"github.com/browserwing/testingdriver/services/remote"
	"github.com/browserwing/testingdriver/storage"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	db      *storage.BoltDB
	drivers *driver.Manager
	config  *config.Config
}

func NewHandler(db *storage.BoltDB, drivers *driver.Manager, cfg *config.Config) *Handler {
	return &Handler{
		db:      db,
		drivers: drivers,
		config:  cfg,
	}
}

// actionRequest 驱动操作的通用请求体
type actionRequest struct {
	Locator      string   `json:"locator"`
	Value        string   `json:"value"`
	URL          string   `json:"url"`
	Keys         string   `json:"keys"`
	Attribute    string   `json:"attribute"`
	Expected     string   `json:"expected"`
	Options      []string `json:"options"`
	State        string   `json:"state"`
	Wait         bool     `json:"wait"`
	Nested       bool     `json:"nested"`
	Index        int      `json:"index"`
	Seconds      int      `json:"seconds"`
	ByJS         bool     `json:"by_js"`
	FilterScript string   `json:"filter_script"`
	TimeoutMs    int      `json:"timeout_ms"`
	Script       string   `json:"script"`
	Args         []any    `json:"args"`
}

func (r *actionRequest) actionOptions() []driver.ActionOption {
	var opts []driver.ActionOption
	if r.FilterScript != "" {
		opts = append(opts, driver.WithFilterScript(r.FilterScript))
	}
	if r.ByJS {
		opts = append(opts, driver.ByJS())
	}
	if r.TimeoutMs > 0 {
		opts = append(opts, driver.WithTimeout(time.Duration(r.TimeoutMs)*time.Millisecond))
	}
	return opts
}

// bind 解析请求体，空请求体视为空请求
func bind(c *gin.Context) (*actionRequest, bool) {
	var req actionRequest
	if c.Request.ContentLength == 0 {
		return &req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return nil, false
	}
	return &req, true
}

func requireLocator(c *gin.Context, req *actionRequest) bool {
	if req.Locator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "locator is required"})
		return false
	}
	return true
}

// statusFor 将驱动错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, driver.ErrNotStarted), errors.Is(err, driver.ErrTerminated):
		return http.StatusConflict
	case errors.Is(err, driver.ErrElementNotFound), errors.Is(err, remote.ErrNoAlert),
		errors.Is(err, remote.ErrTabOutOfRange), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, driver.ErrWaitTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, remote.ErrUnsupportedBrowser), errors.Is(err, remote.ErrMissingRemoteHost):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	logger.Error(c.Request.Context(), "%s failed: %v", op, err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// run 在驱动锁内执行操作并返回统一的 JSON 结果
func (h *Handler) run(c *gin.Context, op string, fn func(d *driver.Driver) (any, error)) {
	var result any
	err := h.drivers.Do(c.Request.Context(), func(d *driver.Driver) error {
		var err error
		result, err = fn(d)
		return err
	})
	if err != nil {
		h.fail(c, op, err)
		return
	}
	body := gin.H{"message": "success"}
	if result != nil {
		body["result"] = result
	}
	c.JSON(http.StatusOK, body)
}

// ============= 会话生命周期 =============

// StartDriver 启动浏览器会话
func (h *Handler) StartDriver(c *gin.Context) {
	if err := h.drivers.Start(c.Request.Context()); err != nil {
		h.fail(c, "start", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "success",
		"status":  h.drivers.Status(),
	})
}

// QuitDriver 结束浏览器会话
func (h *Handler) QuitDriver(c *gin.Context) {
	h.drivers.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

// ForceKillDriver 强制结束驱动进程树
func (h *Handler) ForceKillDriver(c *gin.Context) {
	h.drivers.ForceKill(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

// DriverStatus 会话状态
func (h *Handler) DriverStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.drivers.Status())
}

// SetTimeout 修改默认超时时间（秒）
func (h *Handler) SetTimeout(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	h.run(c, "set timeout", func(d *driver.Driver) (any, error) {
		d.SetTimeOutThreshold(req.Seconds)
		return d.Options().Timeout.String(), nil
	})
}

// ============= 导航 =============

func (h *Handler) Navigate(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	h.run(c, "navigate", func(d *driver.Driver) (any, error) {
		return nil, d.NavigateToURL(c.Request.Context(), req.URL)
	})
}

func (h *Handler) Back(c *gin.Context) {
	h.run(c, "back", func(d *driver.Driver) (any, error) {
		return nil, d.Back(c.Request.Context())
	})
}

func (h *Handler) Forward(c *gin.Context) {
	h.run(c, "forward", func(d *driver.Driver) (any, error) {
		return nil, d.Forward(c.Request.Context())
	})
}

func (h *Handler) Refresh(c *gin.Context) {
	h.run(c, "refresh", func(d *driver.Driver) (any, error) {
		return nil, d.RefreshWebPage(c.Request.Context())
	})
}

func (h *Handler) CloseWindow(c *gin.Context) {
	h.run(c, "close window", func(d *driver.Driver) (any, error) {
		return nil, d.CloseBrowser(c.Request.Context())
	})
}

func (h *Handler) Maximize(c *gin.Context) {
	h.run(c, "maximize", func(d *driver.Driver) (any, error) {
		return nil, d.Maximize(c.Request.Context())
	})
}

func (h *Handler) CurrentURL(c *gin.Context) {
	h.run(c, "current url", func(d *driver.Driver) (any, error) {
		return d.CurrentURL(c.Request.Context())
	})
}

func (h *Handler) Links(c *gin.Context) {
	h.run(c, "links", func(d *driver.Driver) (any, error) {
		return d.GetAllLinksURL(c.Request.Context())
	})
}

// ============= 元素操作 =============

func (h *Handler) Click(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "click", func(d *driver.Driver) (any, error) {
		return nil, d.ClickElement(c.Request.Context(), req.Locator, req.actionOptions()...)
	})
}

func (h *Handler) Populate(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "populate", func(d *driver.Driver) (any, error) {
		return nil, d.PopulateElement(c.Request.Context(), req.Locator, req.Value, req.actionOptions()...)
	})
}

func (h *Handler) Select(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "select", func(d *driver.Driver) (any, error) {
		return nil, d.SelectValueInElement(c.Request.Context(), req.Locator, req.Value, req.actionOptions()...)
	})
}

func (h *Handler) SendKeys(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	h.run(c, "send keys", func(d *driver.Driver) (any, error) {
		return nil, d.SendKeys(c.Request.Context(), req.Keys)
	})
}

// ElementState 检查或等待元素状态
func (h *Handler) ElementState(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	state, err := models.ParseElementState(req.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.run(c, "element state", func(d *driver.Driver) (any, error) {
		if req.Wait {
			return true, d.WaitForElementState(c.Request.Context(), req.Locator, state, req.actionOptions()...)
		}
		return d.CheckForElementState(c.Request.Context(), req.Locator, state, req.actionOptions()...), nil
	})
}

func (h *Handler) ElementAttribute(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "element attribute", func(d *driver.Driver) (any, error) {
		value, found := d.GetElementAttribute(c.Request.Context(), req.Attribute, req.Locator, req.actionOptions()...)
		return gin.H{"value": value, "found": found}, nil
	})
}

func (h *Handler) ElementText(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "element text", func(d *driver.Driver) (any, error) {
		return d.GetElementText(c.Request.Context(), req.Locator, req.actionOptions()...)
	})
}

// ============= 校验 =============

func (h *Handler) VerifyAttribute(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "verify attribute", func(d *driver.Driver) (any, error) {
		return d.VerifyAttribute(c.Request.Context(), req.Attribute, req.Expected, req.Locator, req.actionOptions()...), nil
	})
}

func (h *Handler) VerifyText(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "verify text", func(d *driver.Driver) (any, error) {
		return d.VerifyElementText(c.Request.Context(), req.Expected, req.Locator, req.actionOptions()...), nil
	})
}

func (h *Handler) VerifySelected(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "verify selected", func(d *driver.Driver) (any, error) {
		return d.VerifyElementSelected(c.Request.Context(), req.Locator, req.actionOptions()...), nil
	})
}

func (h *Handler) VerifyDropDown(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "verify dropdown", func(d *driver.Driver) (any, error) {
		return d.VerifyDropDownContent(c.Request.Context(), req.Options, req.Locator, req.actionOptions()...), nil
	})
}

// ============= 上下文切换 =============

// SwitchFrame 切换 iframe，locator 为 "root" 时回到顶层文档
func (h *Handler) SwitchFrame(c *gin.Context) {
	req, ok := bind(c)
	if !ok || !requireLocator(c, req) {
		return
	}
	h.run(c, "switch frame", func(d *driver.Driver) (any, error) {
		var err error
		if req.Nested {
			err = d.SwitchToNestedIFrame(c.Request.Context(), req.Locator)
		} else {
			err = d.SwitchToIFrame(c.Request.Context(), req.Locator)
		}
		return d.Context(), err
	})
}

func (h *Handler) SwitchTab(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	h.run(c, "switch tab", func(d *driver.Driver) (any, error) {
		err := d.SwitchToTab(c.Request.Context(), req.Index)
		return d.Context(), err
	})
}

// ============= 对话框 =============

func (h *Handler) AcceptAlert(c *gin.Context) {
	h.run(c, "accept alert", func(d *driver.Driver) (any, error) {
		return nil, d.AcceptAlert(c.Request.Context())
	})
}

func (h *Handler) DismissAlert(c *gin.Context) {
	h.run(c, "dismiss alert", func(d *driver.Driver) (any, error) {
		return nil, d.DismissAlert(c.Request.Context())
	})
}

func (h *Handler) AlertText(c *gin.Context) {
	h.run(c, "alert text", func(d *driver.Driver) (any, error) {
		return d.GetAlertText(c.Request.Context())
	})
}

// ============= 其他 =============

func (h *Handler) ExecuteJS(c *gin.Context) {
	req, ok := bind(c)
	if !ok {
		return
	}
	if req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script is required"})
		return
	}
	h.run(c, "execute js", func(d *driver.Driver) (any, error) {
		return d.ExecuteJS(c.Request.Context(), req.Script, req.Args...)
	})
}

// Screenshot 截图（尽力而为，失败时 result 为空）
func (h *Handler) Screenshot(c *gin.Context) {
	h.run(c, "screenshot", func(d *driver.Driver) (any, error) {
		if rec := d.TakeScreenShot(c.Request.Context()); rec != nil {
			return rec, nil
		}
		return nil, nil
	})
}

func (h *Handler) ErrorContainer(c *gin.Context) {
	h.run(c, "error container", func(d *driver.Driver) (any, error) {
		return d.CheckErrorContainer(c.Request.Context()), nil
	})
}

// ============= 持久化记录 =============

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.db.ListSessions()
	if err != nil {
		h.fail(c, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (h *Handler) GetSession(c *gin.Context) {
	rec, err := h.db.GetSession(c.Param("id"))
	if err != nil {
		h.fail(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.db.DeleteSession(c.Param("id")); err != nil {
		h.fail(c, "delete session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "success"})
}

func (h *Handler) ListScreenshots(c *gin.Context) {
	shots, err := h.db.ListScreenshots(c.Query("session_id"))
	if err != nil {
		h.fail(c, "list screenshots", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"screenshots": shots, "total": len(shots)})
}

func (h *Handler) GetScreenshot(c *gin.Context) {
	rec, err := h.db.GetScreenshot(c.Param("id"))
	if err != nil {
		h.fail(c, "get screenshot", err)
		return
	}
	c.File(rec.Path)
}
