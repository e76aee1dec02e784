package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/scoring"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

// Server exposes session scoring as MCP tools.
type Server struct {
	sessions *sessions.Manager
	version  string
	log      zerolog.Logger
	now      func() time.Time
}

// NewServer creates the MCP server wrapper.
func NewServer(m *sessions.Manager, version string, log zerolog.Logger) *Server {
	return &Server{
		sessions: m,
		version:  version,
		log:      log.With().Str("component", "mcp").Logger(),
		now:      time.Now,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("bullseye", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.sessionSummaryTool())
	srv.AddTool(s.createSessionTool())
	srv.AddTool(s.recordShotTool())
	srv.AddTool(s.undoTool())
	srv.AddTool(s.scorePointTool())
	srv.AddTool(s.statsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// bullseye_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_list_sessions",
		mcp.WithDescription("List scoring sessions, most recent first. Returns id, name, date, face, progress and score for each."),
		mcp.WithString("range", mcp.Description("Look-back window: 1W, 1M, 3M, 1Y or ALL (default ALL)")),
		mcp.WithBoolean("incomplete", mcp.Description("Only sessions that still have ends to shoot")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return")),
	)
	return tool, s.handleListSessions
}

type sessionOut struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Date       time.Time         `json:"date"`
	TargetType models.TargetFace `json:"targetType"`
	Distance   int               `json:"distance"`
	Ends       string            `json:"ends"`
	Score      int               `json:"score"`
	Complete   bool              `json:"complete"`
}

func toSessionOut(sess *models.Session) sessionOut {
	return sessionOut{
		ID:         sess.ID,
		Name:       sess.Name,
		Date:       sess.Date,
		TargetType: sess.TargetType,
		Distance:   sess.Distance,
		Ends:       fmt.Sprintf("%d/%d", len(sess.Ends), sess.TotalEnds),
		Score:      sess.TotalScore(),
		Complete:   sess.IsComplete,
	}
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rng, err := stats.ParseRange(request.GetString("range", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filter := store.SessionListFilter{
		IncompleteOnly: request.GetBool("incomplete", false),
		Limit:          request.GetInt("limit", 0),
	}
	list, err := s.sessions.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	list = stats.Filter(list, rng, s.now())
	out := make([]sessionOut, len(list))
	for i, sess := range list {
		out[i] = toSessionOut(sess)
	}
	return jsonResult(out)
}

// bullseye_session_summary
func (s *Server) sessionSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_session_summary",
		mcp.WithDescription("Get a session with every end, running totals, the in-progress end and arrow statistics. Resolves the session by id, id prefix or name."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id, id prefix or name")),
	)
	return tool, s.handleSessionSummary
}

func (s *Server) handleSessionSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.resolve(ctx, request)
	if res != nil {
		return res, nil
	}
	v, err := s.sessions.View(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err)), nil
	}
	return jsonResult(v)
}

// bullseye_create_session
func (s *Server) createSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_create_session",
		mcp.WithDescription("Start a new scoring session. Omitted fields use the configured defaults."),
		mcp.WithString("name", mcp.Description("Session name (default: Session HH:MM)")),
		mcp.WithNumber("ends", mcp.Description("Number of ends")),
		mcp.WithNumber("arrows", mcp.Description("Arrows per end")),
		mcp.WithNumber("distance", mcp.Description("Distance in meters")),
		mcp.WithString("face", mcp.Description("Target face"),
			mcp.Enum(string(models.TargetOutdoor), string(models.TargetIndoorSingle), string(models.TargetIndoorTriple))),
	)
	return tool, s.handleCreateSession
}

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.sessions.Create(ctx, sessions.NewSession{
		Name:         request.GetString("name", ""),
		TotalEnds:    request.GetInt("ends", 0),
		ArrowsPerEnd: request.GetInt("arrows", 0),
		Distance:     request.GetInt("distance", 0),
		TargetType:   models.TargetFace(request.GetString("face", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create session: %v", err)), nil
	}
	return jsonResult(toSessionOut(sess))
}

// bullseye_record_shot
func (s *Server) recordShotTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_record_shot",
		mcp.WithDescription("Record an arrow in a session, either as a keypad label (X, 10-1, M) or as face coordinates (0-1000, centre 500,500). If an edit is open the arrow replaces the targeted one."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id, id prefix or name")),
		mcp.WithString("label", mcp.Description("Keypad label: X, 10..1 or M")),
		mcp.WithNumber("x", mcp.Description("Horizontal face coordinate")),
		mcp.WithNumber("y", mcp.Description("Vertical face coordinate")),
	)
	return tool, s.handleRecordShot
}

func (s *Server) handleRecordShot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.resolve(ctx, request)
	if res != nil {
		return res, nil
	}

	var in sessions.Input
	args := request.GetArguments()
	_, hasX := args["x"]
	_, hasY := args["y"]
	switch {
	case hasX && hasY:
		in.Point = &models.Point{X: request.GetFloat("x", 0), Y: request.GetFloat("y", 0)}
	case request.GetString("label", "") != "":
		in.Label = request.GetString("label", "")
	default:
		return mcp.NewToolResultError("provide a label or both x and y"), nil
	}

	v, err := s.sessions.Record(ctx, id, in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record shot: %v", err)), nil
	}
	s.log.Debug().Str("session", id).Str("outcome", v.Outcome).Msg("shot via mcp")
	return jsonResult(v)
}

// bullseye_undo
func (s *Server) undoTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_undo",
		mcp.WithDescription("Cancel an open edit, or remove the last arrow of the in-progress end. Committed ends are never changed."),
		mcp.WithString("session", mcp.Required(), mcp.Description("Session id, id prefix or name")),
	)
	return tool, s.handleUndo
}

func (s *Server) handleUndo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := s.resolve(ctx, request)
	if res != nil {
		return res, nil
	}
	v, err := s.sessions.Undo(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to undo: %v", err)), nil
	}
	return jsonResult(v)
}

// bullseye_score_point
func (s *Server) scorePointTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_score_point",
		mcp.WithDescription("Score a point on the target face without recording it. Coordinates are in face units (0-1000, centre 500,500, outer radius 500)."),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Horizontal face coordinate")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Vertical face coordinate")),
	)
	return tool, s.handleScorePoint
}

func (s *Server) handleScorePoint(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	x, err := request.RequireFloat("x")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: x"), nil
	}
	y, err := request.RequireFloat("y")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: y"), nil
	}
	sc := scoring.StandardFace.Score(models.Point{X: x, Y: y})
	return jsonResult(struct {
		scoring.Score
		Band scoring.Band `json:"band"`
	}{sc, scoring.BandFor(sc.Value)})
}

// bullseye_stats
func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("bullseye_stats",
		mcp.WithDescription("Aggregate statistics and the per-session average trend over a look-back window."),
		mcp.WithString("range", mcp.Description("1W, 1M, 3M, 1Y or ALL (default ALL)")),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rng, err := stats.ParseRange(request.GetString("range", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.sessions.List(ctx, store.SessionListFilter{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}
	return jsonResult(stats.Build(list, rng, s.now()))
}

// resolve reads the required session argument and maps it to an id. A
// non-nil result is an error to return to the client.
func (s *Server) resolve(ctx context.Context, request mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	ref, err := request.RequireString("session")
	if err != nil {
		return "", mcp.NewToolResultError("missing required parameter: session")
	}
	id, err := s.sessions.Resolve(ctx, ref)
	if err != nil {
		return "", mcp.NewToolResultError(err.Error())
	}
	return id, nil
}
