package http

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/orchestrator"
	"github.com/fyrsmithlabs/docqa/internal/sanitize"
	"github.com/fyrsmithlabs/docqa/internal/workspace"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// WorkspaceInfo describes one configured workspace.
type WorkspaceInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// WorkspacesResponse is the response body for GET /api/v1/workspaces.
type WorkspacesResponse struct {
	Workspaces []WorkspaceInfo `json:"workspaces"`
}

func (s *Server) handleWorkspaces(c echo.Context) error {
	names := s.registry.Names()
	resp := WorkspacesResponse{Workspaces: make([]WorkspaceInfo, 0, len(names))}
	for _, name := range names {
		id, err := workspace.Identifier(name)
		if err != nil {
			return s.httpError(c, err)
		}
		resp.Workspaces = append(resp.Workspaces, WorkspaceInfo{Name: name, ID: id})
	}
	return c.JSON(http.StatusOK, resp)
}

// FilesResponse is the response body for GET /api/v1/workspaces/:workspace/files.
type FilesResponse struct {
	Workspace  string   `json:"workspace"`
	Collection string   `json:"collection"`
	Files      []string `json:"files"`
	Chunks     int      `json:"chunks"`
}

func (s *Server) handleFiles(c echo.Context) error {
	ws := c.Param("workspace")
	ctx := logging.WithWorkspace(c.Request().Context(), ws)

	stats, err := s.library.Stats(ctx, ws)
	if err != nil {
		return s.httpError(c, err)
	}
	files := stats.Files
	if files == nil {
		files = []string{}
	}
	return c.JSON(http.StatusOK, FilesResponse{
		Workspace:  ws,
		Collection: stats.Collection,
		Files:      files,
		Chunks:     stats.Chunks,
	})
}

// IngestRequest is the request body for POST /api/v1/workspaces/:workspace/ingest.
type IngestRequest struct {
	Mode  string   `json:"mode"`
	Paths []string `json:"paths"`
}

func (s *Server) handleIngest(c echo.Context) error {
	ws := c.Param("workspace")
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	mode, err := orchestrator.ParseMode(req.Mode)
	if err != nil {
		return s.httpError(c, err)
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths field is required")
	}

	paths := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		resolved, err := sanitize.ValidatePath(p, s.config.IngestRoot)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		paths = append(paths, resolved)
	}

	files, err := orchestrator.ReadFiles(paths)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return s.httpError(c, err)
	}

	ctx := logging.WithWorkspace(c.Request().Context(), ws)
	report, err := s.pipeline.Ingest(ctx, ws, mode, files)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}
