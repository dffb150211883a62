package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/browserwing/testingdriver/models"
	"github.com/browserwing/testingdriver/pkg/logger"
	"github.com/browserwing/testingdriver/services/driver"
)

// toolFunc 在驱动锁内执行的工具逻辑，返回文本结果
type toolFunc func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error)

// MCPServer 将驱动操作注册为 MCP 工具
type MCPServer struct {
	drivers *driver.Manager
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	handlers map[string]server.ToolHandlerFunc

	mcpServer            *server.MCPServer
	streamableHTTPServer *server.StreamableHTTPServer
	standalone           *server.StreamableHTTPServer
}

// NewMCPServer 创建 MCP 服务器并注册全部工具
func NewMCPServer(drivers *driver.Manager, version string) *MCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &MCPServer{
		drivers:  drivers,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]server.ToolHandlerFunc),
	}

	s.mcpServer = server.NewMCPServer(
		"testingdriver",
		version,
		server.WithToolCapabilities(true),
	)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/api/v1/mcp/message"),
		server.WithStateful(true),
	)

	s.registerAllTools()
	return s
}

// StartStreamableHTTPServer 在独立端口上提供 MCP 服务
func (s *MCPServer) StartStreamableHTTPServer(addr string) {
	s.standalone = server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateful(true),
	)
	go func() {
		logger.Info(s.ctx, "Streamable HTTP server listening on %s", addr)
		if err := s.standalone.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error(s.ctx, "Failed to start streamable HTTP server: %v", err)
		}
	}()
}

// Stop 停止 MCP 服务
func (s *MCPServer) Stop(ctx context.Context) {
	if s.standalone != nil {
		if err := s.standalone.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "Failed to shutdown streamable HTTP server: %v", err)
		}
	}
	s.cancel()
	logger.Info(ctx, "MCP server stopped")
}

// Handler 返回挂载到 HTTP API 上的 MCP 处理器
func (s *MCPServer) Handler() http.Handler {
	return s.streamableHTTPServer
}

// Tools 已注册的工具名称
func (s *MCPServer) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

// CallTool 直接调用工具
func (s *MCPServer) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcpgo.CallToolResult, error) {
	s.mu.RLock()
	handler, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	var request mcpgo.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = arguments
	return handler(ctx, request)
}

func (s *MCPServer) addTool(tool mcpgo.Tool, fn toolFunc) {
	handler := func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		logger.Info(ctx, "Executing MCP tool: %s %v", tool.Name, args)

		var text string
		err := s.drivers.Do(ctx, func(d *driver.Driver) error {
			var err error
			text, err = fn(ctx, d, args)
			return err
		})
		if err != nil {
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		return mcpgo.NewToolResultText(text), nil
	}

	s.mu.Lock()
	s.handlers[tool.Name] = handler
	s.mu.Unlock()
	s.mcpServer.AddTool(tool, handler)
}

func (s *MCPServer) registerAllTools() {
	locator := mcpgo.WithString("locator", mcpgo.Required(), mcpgo.Description("XPath locator of the element"))
	filter := mcpgo.WithString("filter_script", mcpgo.Description("Script receiving all matches as arguments[0] and returning the element to use"))
	timeout := mcpgo.WithNumber("timeout_seconds", mcpgo.Description("Override the default timeout"))

	s.addTool(mcpgo.NewTool("navigate_to_url",
		mcpgo.WithDescription("Navigate to a URL, starting the browser if needed. An empty url opens the configured default URL"),
		mcpgo.WithString("url", mcpgo.Description("The URL to navigate to")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		if err := d.NavigateToURL(ctx, stringArg(args, "url")); err != nil {
			return "", err
		}
		return d.CurrentURL(ctx)
	})

	s.addTool(mcpgo.NewTool("click_element",
		mcpgo.WithDescription("Wait for an element to become clickable and click it"),
		locator, filter, timeout,
		mcpgo.WithBoolean("by_js", mcpgo.Description("Click through JavaScript instead of a native click")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return done(d.ClickElement(ctx, stringArg(args, "locator"), actionOptions(args)...))
	})

	s.addTool(mcpgo.NewTool("populate_element",
		mcpgo.WithDescription("Clear an input and type a value into it"),
		locator, filter, timeout,
		mcpgo.WithString("value", mcpgo.Required(), mcpgo.Description("Text to type")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return done(d.PopulateElement(ctx, stringArg(args, "locator"), stringArg(args, "value"), actionOptions(args)...))
	})

	s.addTool(mcpgo.NewTool("select_value",
		mcpgo.WithDescription("Select a dropdown option by its visible text"),
		locator, filter, timeout,
		mcpgo.WithString("value", mcpgo.Required(), mcpgo.Description("Visible option text")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return done(d.SelectValueInElement(ctx, stringArg(args, "locator"), stringArg(args, "value"), actionOptions(args)...))
	})

	s.addTool(mcpgo.NewTool("send_keys",
		mcpgo.WithDescription("Send keys to the focused element. {ENTER} and {TAB} press the named keys"),
		mcpgo.WithString("keys", mcpgo.Required(), mcpgo.Description("Keys to send")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return done(d.SendKeys(ctx, stringArg(args, "keys")))
	})

	s.addTool(mcpgo.NewTool("verify_attribute",
		mcpgo.WithDescription("Check that an element attribute equals the expected value"),
		locator, filter, timeout,
		mcpgo.WithString("attribute", mcpgo.Required(), mcpgo.Description("Attribute name")),
		mcpgo.WithString("expected", mcpgo.Required(), mcpgo.Description("Expected value")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return boolText(d.VerifyAttribute(ctx, stringArg(args, "attribute"), stringArg(args, "expected"), stringArg(args, "locator"), actionOptions(args)...)), nil
	})

	s.addTool(mcpgo.NewTool("verify_element_text",
		mcpgo.WithDescription("Check that the visible text of an element equals the expected text"),
		locator, filter, timeout,
		mcpgo.WithString("expected", mcpgo.Required(), mcpgo.Description("Expected text")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return boolText(d.VerifyElementText(ctx, stringArg(args, "expected"), stringArg(args, "locator"), actionOptions(args)...)), nil
	})

	s.addTool(mcpgo.NewTool("verify_element_selected",
		mcpgo.WithDescription("Check whether a checkbox, radio button or option is selected"),
		locator, filter, timeout,
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return boolText(d.VerifyElementSelected(ctx, stringArg(args, "locator"), actionOptions(args)...)), nil
	})

	s.addTool(mcpgo.NewTool("verify_dropdown_content",
		mcpgo.WithDescription("Check that every expected option text is present in a dropdown"),
		locator, filter, timeout,
		mcpgo.WithArray("options", mcpgo.Required(), mcpgo.Description("Expected option texts"), mcpgo.Items(map[string]any{"type": "string"})),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return boolText(d.VerifyDropDownContent(ctx, stringsArg(args, "options"), stringArg(args, "locator"), actionOptions(args)...)), nil
	})

	stateParam := mcpgo.WithString("state", mcpgo.Required(), mcpgo.Enum("invisible", "visible", "clickable", "disabled"), mcpgo.Description("Element state"))

	s.addTool(mcpgo.NewTool("check_element_state",
		mcpgo.WithDescription("Quickly check whether an element is in a state, without waiting for the full timeout"),
		locator, filter, stateParam,
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		state, err := models.ParseElementState(stringArg(args, "state"))
		if err != nil {
			return "", err
		}
		return boolText(d.CheckForElementState(ctx, stringArg(args, "locator"), state, actionOptions(args)...)), nil
	})

	s.addTool(mcpgo.NewTool("wait_for_element_state",
		mcpgo.WithDescription("Wait until an element reaches a state, failing on timeout"),
		locator, filter, timeout, stateParam,
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		state, err := models.ParseElementState(stringArg(args, "state"))
		if err != nil {
			return "", err
		}
		return done(d.WaitForElementState(ctx, stringArg(args, "locator"), state, actionOptions(args)...))
	})

	s.addTool(mcpgo.NewTool("get_element_text",
		mcpgo.WithDescription("Read the visible text of an element"),
		locator, filter, timeout,
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		return d.GetElementText(ctx, stringArg(args, "locator"), actionOptions(args)...)
	})

	s.addTool(mcpgo.NewTool("get_element_attribute",
		mcpgo.WithDescription("Read an attribute of an element"),
		locator, filter, timeout,
		mcpgo.WithString("attribute", mcpgo.Required(), mcpgo.Description("Attribute name")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		value, ok := d.GetElementAttribute(ctx, stringArg(args, "attribute"), stringArg(args, "locator"), actionOptions(args)...)
		if !ok {
			return "", fmt.Errorf("attribute %q not found on %s", stringArg(args, "attribute"), stringArg(args, "locator"))
		}
		return value, nil
	})

	s.addTool(mcpgo.NewTool("switch_to_iframe",
		mcpgo.WithDescription("Switch into an iframe. The locator \"root\" returns to the top document"),
		mcpgo.WithString("locator", mcpgo.Required(), mcpgo.Description("XPath locator of the iframe, or root")),
		mcpgo.WithBoolean("nested", mcpgo.Description("Search the iframe inside the current frame instead of the top document")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		var err error
		if boolArg(args, "nested") {
			err = d.SwitchToNestedIFrame(ctx, stringArg(args, "locator"))
		} else {
			err = d.SwitchToIFrame(ctx, stringArg(args, "locator"))
		}
		if err != nil {
			return "", err
		}
		return jsonText(d.Context())
	})

	s.addTool(mcpgo.NewTool("switch_to_tab",
		mcpgo.WithDescription("Switch to the tab at the given zero-based index"),
		mcpgo.WithNumber("index", mcpgo.Required(), mcpgo.Description("Tab index")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		if err := d.SwitchToTab(ctx, int(numberArg(args, "index"))); err != nil {
			return "", err
		}
		return jsonText(d.Context())
	})

	s.addTool(mcpgo.NewTool("back", mcpgo.WithDescription("Go back in history")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.Back(ctx))
		})
	s.addTool(mcpgo.NewTool("forward", mcpgo.WithDescription("Go forward in history")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.Forward(ctx))
		})
	s.addTool(mcpgo.NewTool("refresh", mcpgo.WithDescription("Reload the current page")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.RefreshWebPage(ctx))
		})
	s.addTool(mcpgo.NewTool("close_window", mcpgo.WithDescription("Close the current tab and switch to the remaining one")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.CloseBrowser(ctx))
		})
	s.addTool(mcpgo.NewTool("accept_alert", mcpgo.WithDescription("Accept the open dialog")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.AcceptAlert(ctx))
		})
	s.addTool(mcpgo.NewTool("dismiss_alert", mcpgo.WithDescription("Dismiss the open dialog")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return done(d.DismissAlert(ctx))
		})
	s.addTool(mcpgo.NewTool("get_alert_text", mcpgo.WithDescription("Read the text of the open dialog")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return d.GetAlertText(ctx)
		})
	s.addTool(mcpgo.NewTool("current_url", mcpgo.WithDescription("Get the URL of the current page")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return d.CurrentURL(ctx)
		})
	s.addTool(mcpgo.NewTool("get_all_links", mcpgo.WithDescription("List the href of every link on the page")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			links, err := d.GetAllLinksURL(ctx)
			if err != nil {
				return "", err
			}
			return jsonText(links)
		})

	s.addTool(mcpgo.NewTool("execute_js",
		mcpgo.WithDescription("Execute JavaScript in the current context and return its result"),
		mcpgo.WithString("script", mcpgo.Required(), mcpgo.Description("Script body; use return to produce a value")),
	), func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
		res, err := d.ExecuteJS(ctx, stringArg(args, "script"))
		if err != nil {
			return "", err
		}
		return jsonText(res)
	})

	s.addTool(mcpgo.NewTool("take_screenshot", mcpgo.WithDescription("Save a screenshot of the current page")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			rec := d.TakeScreenShot(ctx)
			if rec == nil {
				return "", fmt.Errorf("screenshot failed")
			}
			return jsonText(rec)
		})

	s.addTool(mcpgo.NewTool("driver_status", mcpgo.WithDescription("Get the state of the browser session")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			return jsonText(map[string]interface{}{
				"session_id": d.ID(),
				"state":      d.State(),
				"pid":        d.PID(),
				"context":    d.Context(),
			})
		})

	s.addTool(mcpgo.NewTool("quit_driver", mcpgo.WithDescription("Close the browser and clean up the driver process tree")),
		func(ctx context.Context, d *driver.Driver, args map[string]interface{}) (string, error) {
			d.Quit(ctx)
			return "Success", nil
		})
}

func done(err error) (string, error) {
	if err != nil {
		return "", err
	}
	return "Success", nil
}

func boolText(ok bool) string {
	return fmt.Sprintf("%t", ok)
}

func jsonText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func numberArg(args map[string]interface{}, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func stringsArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

// actionOptions 从工具参数构造驱动操作选项
func actionOptions(args map[string]interface{}) []driver.ActionOption {
	var opts []driver.ActionOption
	if f := stringArg(args, "filter_script"); f != "" {
		opts = append(opts, driver.WithFilterScript(f))
	}
	if boolArg(args, "by_js") {
		opts = append(opts, driver.ByJS())
	}
	if secs := numberArg(args, "timeout_seconds"); secs > 0 {
		opts = append(opts, driver.WithTimeout(time.Duration(secs*float64(time.Second))))
	}
	return opts
}
