package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// openStream answers with a server-sent event stream.
func openStream(c echo.Context) *echo.Response {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()
	return res
}

// sendEvent writes one named event with a JSON payload and flushes it.
func sendEvent(res *echo.Response, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func sendPing(res *echo.Response) error {
	if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func sendClosed(res *echo.Response) {
	_, _ = fmt.Fprint(res, "event: closed\ndata: {}\n\n")
	res.Flush()
}
