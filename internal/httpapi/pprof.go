package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"

	"github.com/labstack/echo/v4"
)

const pprofPrefix = "/debug/pprof"

func mountPprof(e *echo.Echo) {
	g := e.Group(pprofPrefix)
	g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
	g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
	g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
	g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
	// Index also serves named profiles such as heap and goroutine.
	g.GET("/", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
	g.GET("/:name", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
}
