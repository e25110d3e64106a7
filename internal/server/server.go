package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BDNK1/plugpack/internal/archive"
	"github.com/BDNK1/plugpack/internal/security"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Package describes one archive in the output directory
type Package struct {
	File    string `json:"file"`
	ID      string `json:"id"`
	Version string `json:"version"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
}

// Server exposes the output directory to a host application
type Server struct {
	dir string
	g   *gin.Engine
	l   *slog.Logger
}

// New creates a server for the archives in dir
func New(dir string, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	s := &Server{dir: dir, g: g, l: l}

	g.GET("/healthz", s.health)
	g.GET("/packages", s.list)
	g.GET("/packages/:file", s.download)

	return s
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.g
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.g,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.l.Info("Serving plugin packages", "addr", addr, "dir", s.dir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("package server on %q failed: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.l.Info("Shutting down package server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("package server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) list(c *gin.Context) {
	packages, err := List(s.dir)
	if err != nil {
		s.l.Error("Failed to list packages", "dir", s.dir, "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error listing packages: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, packages)
}

func (s *Server) download(c *gin.Context) {
	name := c.Param("file")

	if err := security.ValidateFileName(name); err != nil || !strings.EqualFold(filepath.Ext(name), ".zip") {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid package name"})
		return
	}

	path := filepath.Join(s.dir, name)
	if err := security.ValidatePathWithinBoundary(s.dir, path); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid package name"})
		return
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"message": "Package not found: " + name})
		return
	}

	s.l.Debug("Serving package", "file", name, "remote", c.ClientIP())
	c.FileAttachment(path, name)
}

// List describes every plugin archive in dir. Files that are not plugin
// archives are skipped. A missing dir yields an empty list.
func List(dir string) ([]Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Package{}, nil
		}
		return nil, fmt.Errorf("failed to read output directory at %q: %w", dir, err)
	}

	packages := []Package{}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.EqualFold(filepath.Ext(entry.Name()), ".zip") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		contents, err := archive.Inspect(path)
		if err != nil {
			continue
		}

		size, sum, err := digest(path)
		if err != nil {
			return nil, err
		}

		packages = append(packages, Package{
			File:    entry.Name(),
			ID:      contents.Metadata.ID,
			Version: contents.Metadata.Version,
			Size:    size,
			SHA256:  sum,
		})
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].File < packages[j].File })
	return packages, nil
}

func digest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %q: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
