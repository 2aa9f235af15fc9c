// Package web holds the dashboard page of the monitoring server.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DevEnv names the environment variable that makes Assets read the pages
// from the source tree, so that they can be edited without rebuilding.
const DevEnv = "OSSIM_MONITOR_DEV"

//go:embed dist/*
var dist embed.FS

// Assets returns the file system the dashboard is served from.
func Assets() http.FileSystem {
	if dir, ok := sourceDir(); ok {
		slog.Warn("serving monitoring pages from disk", "dir", dir)
		return http.Dir(dir)
	}

	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

func sourceDir() (string, bool) {
	dev, err := strconv.ParseBool(os.Getenv(DevEnv))
	if err != nil || !dev {
		return "", false
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", false
	}

	return filepath.Join(filepath.Dir(file), "dist"), true
}
