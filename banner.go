package wsecho

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 版本号
const Version = "0.1.0"

const banner = `
__      __  ___  ___     _
\ \    / / / __|| __| __| |_   ___
 \ \/\/ /  \__ \| _| / _| ' \ / _ \   websocket echo service
  \_/\_/   |___/|___|\__|_||_|\___/   ws: %s
                                      version: %s
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	if e.config.Mode == gin.TestMode {
		return
	}
	out := os.Stdout

	var open string
	if strings.HasPrefix(addr, ":") {
		open = "ws://127.0.0.1" + addr + "/ws"
	} else {
		open = "ws://" + addr + "/ws"
	}

	fPrint(out, banner, open, Version)
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes, e.config.Mode)
		fPrint(out, "\n")
	}

	fPrint(out, "[wsecho] Running in %q mode | Go %s | %s/%s\n",
		e.config.Mode, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[wsecho] Listening on %s\n", addr)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	case "PUT":
		return "\033[33m"
	case "DELETE":
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 格式化打印路由表（Gin 风格 + 颜色）
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}

	for _, r := range routes {
		fPrint(out, "[wsecho-%s] %s %-7s %s %-*s --> %s\n",
			mode,
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出，访问日志由 middleware.Logger 负责
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误（banner 输出场景）
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
