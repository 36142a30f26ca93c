package helper

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/whitekid/goxp/log"
)

const shutdownTimeout = 10 * time.Second

// Echo http server of api and public mirror
type Echo struct {
	*echo.Echo
}

// NewEcho echo with request id, access log, 5xx error log and struct validation on Bind
func NewEcho(middlewares ...echo.MiddlewareFunc) *Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = structValidator{}
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID(), middleware.Logger(), logServerErrors)
	e.Use(middlewares...)

	return &Echo{e}
}

// Serve listen on addr until ctx is done, then shutdown gracefully
func (e *Echo) Serve(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown %s: %v", addr, err)
		}
	}()

	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// logServerErrors log handler errors answered with 5xx
func logServerErrors(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err == nil {
			return nil
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		if code >= http.StatusInternalServerError {
			log.Errorf("%s %s: %+v", c.Request().Method, c.Path(), err)
		}

		return err
	}
}

// Bind decode request into val and validate it; both failures are 400
func Bind(c echo.Context, val interface{}) error {
	if err := c.Bind(val); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}

	return c.Validate(val)
}

type structValidator struct{}

func (structValidator) Validate(i interface{}) error {
	if err := ValidateStruct(i); err != nil {
		if fields := InvalidFields(err); len(fields) > 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+strings.Join(fields, ", "))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
