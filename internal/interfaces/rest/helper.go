package rest

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type endpoint struct {
	apiVersion  string
	middlewares []echo.MiddlewareFunc
	groups      []*apiGroup
}

type apiGroup struct {
	prefix      string
	middlewares []echo.MiddlewareFunc
	routes      []*route
}

type route struct {
	method      string
	path        string
	handler     echo.HandlerFunc
	middlewares []echo.MiddlewareFunc
}

func createEndpoint(app *echo.Echo, def *endpoint) {
	root := app.Group("/"+strings.TrimPrefix(def.apiVersion, "/"), def.middlewares...)
	for _, group := range def.groups {
		echoGroup := root.Group(group.prefix, group.middlewares...)
		for _, api := range group.routes {
			switch api.method {
			case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
				echoGroup.Add(api.method, api.path, api.handler, api.middlewares...)
			default:
				panic(fmt.Errorf("createEndpoint: unknown method %s", api.method))
			}
		}
	}
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			continue
		}
		name := route.Name
		name = name[strings.LastIndexByte(name, '/')+1:]
		logger.Debug("Registered route", zap.String("method", route.Method), zap.String("path", route.Path), zap.String("name", name))
	}
}
