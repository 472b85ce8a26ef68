// Package mcp provides a Model Context Protocol server for rollcall.
//
// It exposes parsing, importing and the stored roster as MCP tools, and store
// statistics as an MCP resource. Served over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/ingest"
	"github.com/hurttlocker/rollcall/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store   store.Store
	Engine  *ingest.Engine // defaults to an engine on Store
	Version string         // version string for MCP server info
}

// dbMu serializes tool calls that touch the database. mcp-go dispatches
// handlers concurrently and SQLite allows one writer at a time.
var dbMu sync.Mutex

// maxStudentsLimit caps rollcall_students pages.
const maxStudentsLimit = 500

// NewServer creates a configured MCP server with all rollcall tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"rollcall",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	engine := cfg.Engine
	if engine == nil {
		engine = ingest.NewEngine(cfg.Store)
	}

	registerParseTool(s, engine)
	registerImportTool(s, engine)
	registerStudentsTool(s, cfg.Store)
	registerRunsTool(s, cfg.Store)
	registerStatsResource(s, cfg.Store)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(cfg ServerConfig) error {
	return server.ServeStdio(NewServer(cfg))
}

// --- Tools ---

func inputArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("content",
			mcp.Description("Text of a legacy dump or CSV export. Either content or path is required."),
		),
		mcp.WithString("path",
			mcp.Description("Path of a file on the server's filesystem (.txt, .csv, .tsv, .xlsx)"),
		),
		mcp.WithString("filename",
			mcp.Description("File name used for format detection when content is given (default: upload.txt)"),
		),
		mcp.WithString("mode",
			mcp.Description("Extraction mode (default: auto)"),
			mcp.Enum("auto", "legacy", "columnar"),
		),
	}
}

// readInput returns the upload name and bytes from either content or path.
func readInput(req mcp.CallToolRequest) (name string, data []byte, fromPath bool, err error) {
	if p, perr := req.RequireString("path"); perr == nil && strings.TrimSpace(p) != "" {
		return filepath.Clean(p), nil, true, nil
	}
	content, cerr := req.RequireString("content")
	if cerr != nil || strings.TrimSpace(content) == "" {
		return "", nil, false, errors.New("content or path is required")
	}
	name = "upload.txt"
	if f, ferr := req.RequireString("filename"); ferr == nil && f != "" {
		// Only the extension matters; drop any directory part.
		name = filepath.Base(f)
	}
	return name, []byte(content), false, nil
}

func importOptions(req mcp.CallToolRequest) ingest.ImportOptions {
	var opts ingest.ImportOptions
	if m, err := req.RequireString("mode"); err == nil {
		opts.Mode = m
	}
	return opts
}

// resultView is the JSON shape returned by the parse and import tools.
type resultView struct {
	RunID         string           `json:"run_id"`
	Source        string           `json:"source"`
	Mode          string           `json:"mode"`
	Encoding      string           `json:"encoding"`
	Stats         extract.Stats    `json:"stats"`
	Written       int              `json:"written"`
	Replaced      bool             `json:"replaced,omitempty"`
	DryRun        bool             `json:"dry_run,omitempty"`
	Unchanged     bool             `json:"unchanged,omitempty"`
	PreviousRunID string           `json:"previous_run_id,omitempty"`
	Records       []extract.Record `json:"records,omitempty"`
	Message       string           `json:"message"`
}

func newResultView(r *ingest.ImportResult) resultView {
	return resultView{
		RunID:         r.RunID,
		Source:        filepath.Base(r.SourceFile),
		Mode:          string(r.Result.Mode),
		Encoding:      string(r.Encoding),
		Stats:         r.Result.Stats,
		Written:       r.Written,
		Replaced:      r.Replaced,
		DryRun:        r.DryRun,
		Unchanged:     r.Unchanged,
		PreviousRunID: r.PreviousRunID,
	}
}

func registerParseTool(s *server.MCPServer, engine *ingest.Engine) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Extract student records from a legacy dump or spreadsheet export without writing anything. Returns the records and run statistics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	}, inputArgs()...)
	tool := mcp.NewTool("rollcall_parse", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, data, fromPath, err := readInput(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var res *ingest.ImportResult
		if fromPath {
			res, err = engine.Parse(ctx, name, importOptions(req))
		} else {
			res, err = engine.ParseBytes(ctx, name, data, importOptions(req))
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse error: %v", err)), nil
		}

		view := newResultView(res)
		view.Records = res.Result.Records
		view.Message = fmt.Sprintf("Extracted %d record(s)", len(res.Result.Records))
		data, _ = json.MarshalIndent(view, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerImportTool(s *server.MCPServer, engine *ingest.Engine) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Extract student records and write them to the roster database. Re-importing identical input is a no-op unless force or replace is set."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
	}, inputArgs()...)
	opts = append(opts,
		mcp.WithBoolean("replace",
			mcp.Description("Empty the students table before inserting (default: false)"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Import even if the same input was imported before (default: false)"),
		),
	)
	tool := mcp.NewTool("rollcall_import", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		name, data, fromPath, err := readInput(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		iopts := importOptions(req)
		if v, err := req.RequireBool("replace"); err == nil {
			iopts.Replace = v
		}
		if v, err := req.RequireBool("force"); err == nil {
			iopts.Force = v
		}

		var res *ingest.ImportResult
		if fromPath {
			res, err = engine.Import(ctx, name, iopts)
		} else {
			res, err = engine.ImportBytes(ctx, name, data, iopts)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}

		view := newResultView(res)
		if res.Unchanged {
			view.Message = fmt.Sprintf("Input already imported by run %s; nothing written", res.PreviousRunID)
		} else {
			view.Message = fmt.Sprintf("Imported %d student(s)", res.Written)
		}
		data, _ = json.MarshalIndent(view, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// studentView is the JSON shape of a stored student.
type studentView struct {
	ID              int64  `json:"id"`
	RunID           string `json:"run_id"`
	Name            string `json:"name"`
	BirthDate       string `json:"birth_date,omitempty"`
	Phone           string `json:"phone,omitempty"`
	Region          string `json:"region"`
	FarmerType      string `json:"farmer_type"`
	YearLevel       string `json:"year_level"`
	Email           string `json:"email,omitempty"`
	CreatedAt       string `json:"created_at"`
	Verified        bool   `json:"is_verified"`
	SourceLine      int    `json:"source_line"`
	StudentCategory string `json:"student_category,omitempty"`
	Gender          string `json:"gender,omitempty"`
	Address         string `json:"address,omitempty"`
	MainCrop        string `json:"main_crop,omitempty"`
}

func registerStudentsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("rollcall_students",
		mcp.WithDescription("List stored students in import order, optionally filtered by region, farmer type or import run."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of students (default: 100, max: 500)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of students to skip"),
		),
		mcp.WithString("region",
			mcp.Description("Exact region, e.g. 경북"),
		),
		mcp.WithString("category",
			mcp.Description("Exact farmer type, e.g. 청년농업인"),
		),
		mcp.WithString("run_id",
			mcp.Description("Only students written by this import run"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		opts := store.ListOpts{}
		if v, err := req.RequireFloat("limit"); err == nil {
			opts.Limit = min(int(v), maxStudentsLimit)
		}
		if v, err := req.RequireFloat("offset"); err == nil && v > 0 {
			opts.Offset = int(v)
		}
		if v, err := req.RequireString("region"); err == nil {
			opts.Region = v
		}
		if v, err := req.RequireString("category"); err == nil {
			opts.Category = v
		}
		if v, err := req.RequireString("run_id"); err == nil {
			opts.RunID = v
		}

		students, err := st.ListStudents(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list error: %v", err)), nil
		}
		total, err := st.CountStudents(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("count error: %v", err)), nil
		}

		out := make([]studentView, 0, len(students))
		for _, sv := range students {
			out = append(out, studentView{
				ID: sv.ID, RunID: sv.RunID, Name: sv.Name, BirthDate: sv.BirthDate,
				Phone: sv.Phone, Region: sv.Region, FarmerType: sv.FarmerType,
				YearLevel: sv.YearLevel, Email: sv.Email, CreatedAt: sv.CreatedAt,
				Verified: sv.Verified, SourceLine: sv.SourceLine,
				StudentCategory: sv.StudentCategory, Gender: sv.Gender, MainCrop: sv.MainCrop,
				Address: strings.TrimSpace(sv.Address + " " + sv.DetailedAddress),
			})
		}

		data, _ := json.MarshalIndent(map[string]any{
			"total":    total,
			"students": out,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// runView is the JSON shape of an import run.
type runView struct {
	ID             string `json:"id"`
	SourceFile     string `json:"source_file"`
	Mode           string `json:"mode"`
	LinesRead      int    `json:"lines_read"`
	RecordsEmitted int    `json:"records_emitted"`
	Duplicates     int    `json:"duplicates"`
	DateWarnings   int    `json:"date_warnings"`
	Skipped        int    `json:"skipped"`
	Replaced       bool   `json:"replaced"`
	StartedAt      string `json:"started_at"`
	Duration       string `json:"duration"`
}

func registerRunsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("rollcall_runs",
		mcp.WithDescription("List recent import runs, newest first, with their extraction statistics."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs (default: 20)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		limit := 20
		if v, err := req.RequireFloat("limit"); err == nil && v > 0 {
			limit = int(v)
		}

		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("runs error: %v", err)), nil
		}

		out := make([]runView, 0, len(runs))
		for _, r := range runs {
			out = append(out, runView{
				ID: r.ID, SourceFile: r.SourceFile, Mode: r.Mode,
				LinesRead: r.LinesRead, RecordsEmitted: r.RecordsEmitted,
				Duplicates: r.Duplicates, DateWarnings: r.DateWarnings, Skipped: r.Skipped,
				Replaced:  r.Replaced,
				StartedAt: r.StartedAt.Format(time.RFC3339),
				Duration:  r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			})
		}

		data, _ := json.MarshalIndent(out, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"rollcall://stats",
		"Roster Statistics",
		mcp.WithResourceDescription("Student and import run counts, and database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(map[string]int64{
			"students":      stats.StudentCount,
			"runs":          stats.RunCount,
			"db_size_bytes": stats.DBSizeBytes,
		}, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
