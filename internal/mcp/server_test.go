package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store in memory, newest first.
type mockStore struct {
	sessions []*models.Session
	nextID   int

	// Optional error injection.
	listErr error
	saveErr error
}

func (m *mockStore) CreateSession(_ context.Context, s *models.Session) error {
	if s.ID == "" {
		m.nextID++
		s.ID = fmt.Sprintf("SESS%04d", m.nextID)
	}
	m.sessions = append([]*models.Session{s.Clone()}, m.sessions...)
	return nil
}

func (m *mockStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.ID == id {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *mockStore) SaveSession(_ context.Context, s *models.Session) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	for i, existing := range m.sessions {
		if existing.ID == s.ID {
			m.sessions[i] = s.Clone()
			return nil
		}
	}
	m.sessions = append([]*models.Session{s.Clone()}, m.sessions...)
	return nil
}

func (m *mockStore) UpdateSessionFields(ctx context.Context, id string, u store.SessionUpdate) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.ID != id {
			continue
		}
		if u.Name != nil {
			s.Name = *u.Name
		}
		if u.Notes != nil {
			s.Notes = *u.Notes
		}
		if u.Distance != nil {
			s.Distance = *u.Distance
		}
		return s.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *mockStore) DeleteSession(_ context.Context, id string) error {
	for i, s := range m.sessions {
		if s.ID == id {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockStore) ListSessions(_ context.Context, f store.SessionListFilter) ([]*models.Session, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.Session
	for _, s := range m.sessions {
		if f.IncompleteOnly && s.IsComplete {
			continue
		}
		out = append(out, s.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	m := sessions.NewManager(ms, sessions.Options{
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return testNow },
	})
	srv := NewServer(m, "test", zerolog.Nop())
	srv.now = func() time.Time { return testNow }
	return srv, ms
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, resultText(t, result))
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func seedSession(t *testing.T, ms *mockStore, name string, date time.Time, ends ...[]int) *models.Session {
	t.Helper()
	s := &models.Session{
		Name:         name,
		Date:         date,
		TargetType:   models.TargetOutdoor,
		TotalEnds:    3,
		ArrowsPerEnd: 3,
		Distance:     18,
		Ends:         []models.End{},
	}
	for i, values := range ends {
		e := models.End{ID: fmt.Sprintf("%s-end-%d", name, i+1), Number: i + 1}
		for _, v := range values {
			e.Arrows = append(e.Arrows, models.ArrowShot{Value: v}.Normalized())
		}
		s.Ends = append(s.Ends, e)
	}
	s.IsComplete = len(s.Ends) >= s.TotalEnds
	require.NoError(t, ms.CreateSession(context.Background(), s))
	return s
}

type viewOut struct {
	Outcome      string             `json:"outcome"`
	State        string             `json:"state"`
	TotalScore   int                `json:"totalScore"`
	CurrentTotal int                `json:"currentTotal"`
	Current      []models.ArrowShot `json:"currentArrows"`
	Stats        stats.Summary      `json:"stats"`
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv, "MCPServer() should return non-nil")
}

func TestHandleListSessions_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	result, err := srv.handleListSessions(context.Background(), callToolReq("bullseye_list_sessions", nil))
	require.NoError(t, err)

	var out []sessionOut
	resultJSON(t, result, &out)
	assert.Empty(t, out)
}

func TestHandleListSessions_RangeAndIncomplete(t *testing.T) {
	srv, ms := newTestServer(t)
	seedSession(t, ms, "old", testNow.Add(-60*24*time.Hour), []int{9, 9, 9})
	seedSession(t, ms, "done", testNow.Add(-time.Hour), []int{10, 10, 10}, []int{9, 9, 9}, []int{8, 8, 8})
	seedSession(t, ms, "open", testNow, []int{7, 7, 7})

	result, err := srv.handleListSessions(context.Background(), callToolReq("bullseye_list_sessions", map[string]any{"range": "1M"}))
	require.NoError(t, err)
	var out []sessionOut
	resultJSON(t, result, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "open", out[0].Name)
	assert.Equal(t, "1/3", out[0].Ends)
	assert.Equal(t, 81, out[1].Score)

	result, err = srv.handleListSessions(context.Background(), callToolReq("bullseye_list_sessions", map[string]any{"incomplete": true}))
	require.NoError(t, err)
	resultJSON(t, result, &out)
	assert.Len(t, out, 2)
	for _, o := range out {
		assert.False(t, o.Complete)
	}
}

func TestHandleListSessions_Errors(t *testing.T) {
	srv, ms := newTestServer(t)

	result, err := srv.handleListSessions(context.Background(), callToolReq("bullseye_list_sessions", map[string]any{"range": "2W"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	ms.listErr = errors.New("database locked")
	result, err = srv.handleListSessions(context.Background(), callToolReq("bullseye_list_sessions", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "database locked")
}

func TestHandleSessionSummary_ByName(t *testing.T) {
	srv, ms := newTestServer(t)
	seedSession(t, ms, "Club night", testNow, []int{10, 9, 0})

	result, err := srv.handleSessionSummary(context.Background(), callToolReq("bullseye_session_summary", map[string]any{"session": "club night"}))
	require.NoError(t, err)

	var v viewOut
	resultJSON(t, result, &v)
	assert.Equal(t, 19, v.TotalScore)
	assert.Equal(t, "in_progress", v.State)
	assert.Equal(t, 1, v.Stats.MissCount)
}

func TestHandleSessionSummary_Missing(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleSessionSummary(context.Background(), callToolReq("bullseye_session_summary", map[string]any{"session": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	result, err = srv.handleSessionSummary(context.Background(), callToolReq("bullseye_session_summary", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session")
}

func TestHandleCreateSession(t *testing.T) {
	srv, ms := newTestServer(t)

	result, err := srv.handleCreateSession(context.Background(), callToolReq("bullseye_create_session", map[string]any{
		"ends": float64(2), "arrows": float64(6), "face": "WA_INDOOR_TRIPLE",
	}))
	require.NoError(t, err)

	var out sessionOut
	resultJSON(t, result, &out)
	assert.Equal(t, "Session 09:30", out.Name)
	assert.Equal(t, "0/2", out.Ends)
	assert.Equal(t, models.TargetIndoorTriple, out.TargetType)
	require.Len(t, ms.sessions, 1)
	assert.Equal(t, 6, ms.sessions[0].ArrowsPerEnd)

	result, err = srv.handleCreateSession(context.Background(), callToolReq("bullseye_create_session", map[string]any{"face": "HUGE"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecordShot(t *testing.T) {
	srv, ms := newTestServer(t)
	s := seedSession(t, ms, "practice", testNow)
	ctx := context.Background()

	result, err := srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "label": "X"}))
	require.NoError(t, err)
	var v viewOut
	resultJSON(t, result, &v)
	assert.Equal(t, "recorded", v.Outcome)
	assert.Equal(t, 10, v.CurrentTotal)

	result, err = srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "x": 500.0, "y": 700.0}))
	require.NoError(t, err)
	resultJSON(t, result, &v)
	require.Len(t, v.Current, 2)
	assert.Equal(t, 7, v.Current[1].Value)
	require.NotNil(t, v.Current[1].Position)

	result, err = srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "label": "M"}))
	require.NoError(t, err)
	resultJSON(t, result, &v)
	assert.Equal(t, "end_committed", v.Outcome)
	assert.Equal(t, 17, v.TotalScore)
	assert.Len(t, ms.sessions[0].Ends, 1)
}

func TestHandleRecordShot_BadInput(t *testing.T) {
	srv, ms := newTestServer(t)
	s := seedSession(t, ms, "practice", testNow)
	ctx := context.Background()

	result, err := srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "label": "Z"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "x": 500.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecordShot_SaveFailure(t *testing.T) {
	srv, ms := newTestServer(t)
	s := seedSession(t, ms, "practice", testNow)
	s.ArrowsPerEnd = 1
	require.NoError(t, ms.SaveSession(context.Background(), s))
	ms.saveErr = errors.New("disk full")

	result, err := srv.handleRecordShot(context.Background(), callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "label": "9"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "disk full")
}

func TestHandleUndo(t *testing.T) {
	srv, ms := newTestServer(t)
	s := seedSession(t, ms, "practice", testNow)
	ctx := context.Background()

	_, err := srv.handleRecordShot(ctx, callToolReq("bullseye_record_shot", map[string]any{"session": s.ID, "label": "8"}))
	require.NoError(t, err)

	result, err := srv.handleUndo(ctx, callToolReq("bullseye_undo", map[string]any{"session": s.ID}))
	require.NoError(t, err)
	var v viewOut
	resultJSON(t, result, &v)
	assert.Equal(t, "undone", v.Outcome)
	assert.Empty(t, v.Current)

	result, err = srv.handleUndo(ctx, callToolReq("bullseye_undo", map[string]any{"session": s.ID}))
	require.NoError(t, err)
	resultJSON(t, result, &v)
	assert.Equal(t, "ignored", v.Outcome)
}

func TestHandleScorePoint(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		x, y    float64
		display string
		band    string
	}{
		{500, 500, "X", "gold"},
		{500, 0, "1", "white"},
		{0, 0, "M", "miss"},
		{600, 500, "9", "gold"},
	}
	for _, tt := range tests {
		result, err := srv.handleScorePoint(context.Background(), callToolReq("bullseye_score_point", map[string]any{"x": tt.x, "y": tt.y}))
		require.NoError(t, err)
		var out struct {
			Value   int    `json:"value"`
			Display string `json:"display"`
			Band    string `json:"band"`
		}
		resultJSON(t, result, &out)
		assert.Equal(t, tt.display, out.Display)
		assert.Equal(t, tt.band, out.Band)
	}

	result, err := srv.handleScorePoint(context.Background(), callToolReq("bullseye_score_point", map[string]any{"x": 1.0}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleStats(t *testing.T) {
	srv, ms := newTestServer(t)
	seedSession(t, ms, "a", testNow.Add(-2*24*time.Hour), []int{10, 10, 10})
	seedSession(t, ms, "b", testNow, []int{8, 8, 8})

	result, err := srv.handleStats(context.Background(), callToolReq("bullseye_stats", map[string]any{"range": "1W"}))
	require.NoError(t, err)
	var d stats.Dashboard
	resultJSON(t, result, &d)
	assert.Equal(t, 54, d.Summary.TotalScore)
	assert.Equal(t, 3, d.Summary.TenCount)
	require.Len(t, d.Trend, 2)
	assert.Equal(t, "a", d.Trend[0].Name)
	assert.Equal(t, 9.0, d.Summary.AverageArrow)
}
