package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "codebase://"

// FilesResourceURI names the file listing resource of a codebase.
func FilesResourceURI(codebaseID string) string {
	return resourceScheme + codebaseID + "/files"
}

func parseFilesResourceURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, resourceScheme)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/files")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ReadFilesResource returns the newline separated file list of a ready codebase.
func (t *CodeTools) ReadFilesResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := parseFilesResourceURI(uri)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	codebase, err := t.codebases.GetByID(ctx, id)
	if err != nil || !codebase.IsReady() {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	files, err := t.files.ListFiles(ctx, codebase.LocalPath, t.extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "text/plain", Text: strings.Join(files, "\n")},
		},
	}, nil
}

// RegisterResources adds a file listing resource for every ready codebase
// plus a template covering codebases ingested later.
func (t *CodeTools) RegisterResources(ctx context.Context, server *mcp.Server, logger *slog.Logger) {
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "{codebase_id}/files",
		Name:        "codebase-files",
		Description: "Files indexed for a codebase",
		MIMEType:    "text/plain",
	}, t.ReadFilesResource)

	codebases, err := t.codebases.ListAll(ctx)
	if err != nil {
		logger.Warn("Failed to list codebases for resources", "error", err)
		return
	}
	for _, c := range codebases {
		if !c.IsReady() {
			continue
		}
		server.AddResource(&mcp.Resource{
			URI:         FilesResourceURI(c.ID),
			Name:        c.Locator.DisplayName(),
			Description: fmt.Sprintf("Files indexed for %s", c.Locator.DisplayName()),
			MIMEType:    "text/plain",
		}, t.ReadFilesResource)
	}
}
