// Package server exposes the HTTP surface: the MJPEG live feed, the clip
// archive, the event websocket and the debug endpoints.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
)

// envelope is the uniform JSON response shape.
type envelope struct {
	Code      int    `json:"code"`
	Status    string `json:"status"`
	ErrorName string `json:"errorName,omitempty"`
	ErrorMsg  string `json:"errorMsg,omitempty"`
	ErrorFile string `json:"errorFile,omitempty"`
	Data      any    `json:"data"`
}

func respond(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Code:   http.StatusOK,
		Status: "Success",
		Data:   data,
	})
}

// respondError reports the failure with the caller's location, so a log
// reader can jump straight to the failing handler.
func respondError(w http.ResponseWriter, code int, name string, err error) {
	file := "unknown"
	if _, f, line, ok := runtime.Caller(1); ok {
		file = fmt.Sprintf("%s:%d", filepath.Base(f), line)
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, code, envelope{
		Code:      code,
		Status:    "Error",
		ErrorName: name,
		ErrorMsg:  msg,
		ErrorFile: file,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
