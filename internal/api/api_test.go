package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

type fakeCoach struct {
	summary string
	err     error
}

func (c *fakeCoach) CoachSession(_ context.Context, _ *models.Session, _ []*models.Session) (string, error) {
	return c.summary, c.err
}

func setupTestServer(t *testing.T, coach Coach) (http.Handler, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	m := sessions.NewManager(s, sessions.Options{Logger: zerolog.Nop()})
	srv := NewServer(m, coach, zerolog.Nop())
	return srv.Router(), s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type viewBody struct {
	Session         *models.Session    `json:"session"`
	State           string             `json:"state"`
	Outcome         string             `json:"outcome"`
	CurrentTotal    int                `json:"currentTotal"`
	TotalScore      int                `json:"totalScore"`
	CurrentEndIndex int                `json:"currentEndIndex"`
	CurrentArrows   []models.ArrowShot `json:"currentArrows"`
	RemainingEnds   int                `json:"remainingEnds"`
	EditTarget      *struct {
		EndID string `json:"endId"`
		Index int    `json:"index"`
	} `json:"editTarget"`
	Stats stats.Summary `json:"stats"`
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v viewBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func createSession(t *testing.T, h http.Handler, body string) *models.Session {
	t.Helper()
	w := do(t, h, "POST", "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	return &s
}

func TestListSessions_Empty(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	w := do(t, h, "GET", "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var list []*models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestSessionCRUD_API(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	created := createSession(t, h, `{"name":"Indoor league","totalEnds":2,"arrowsPerEnd":3,"targetType":"WA_INDOOR_SINGLE"}`)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Indoor league", created.Name)
	assert.Equal(t, models.TargetIndoorSingle, created.TargetType)
	assert.Equal(t, models.DefaultDistance, created.Distance)

	v := decodeView(t, do(t, h, "GET", "/api/v1/sessions/"+created.ID, ""))
	assert.Equal(t, "not_started", v.State)
	assert.Equal(t, 2, v.RemainingEnds)

	w := do(t, h, "PUT", "/api/v1/sessions/"+created.ID, `{"notes":"left sight at home","distance":25}`)
	require.Equal(t, http.StatusOK, w.Code)
	var updated models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "Indoor league", updated.Name)
	assert.Equal(t, "left sight at home", updated.Notes)
	assert.Equal(t, 25, updated.Distance)

	w = do(t, h, "GET", "/api/v1/sessions", "")
	var list []*models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(t, h, "DELETE", "/api/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/api/v1/sessions/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession_Invalid(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/api/v1/sessions", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/api/v1/sessions", `{"targetType":"BOGUS"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/api/v1/sessions", `{"colour":"red"}`).Code)
}

func TestUpdateSession_NotFound(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	w := do(t, h, "PUT", "/api/v1/sessions/nope", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScoringFlow_API(t *testing.T) {
	h, st := setupTestServer(t, nil)
	s := createSession(t, h, `{"totalEnds":2,"arrowsPerEnd":3}`)
	shots := "/api/v1/sessions/" + s.ID + "/shots"

	decodeView(t, do(t, h, "POST", shots, `{"label":"X"}`))
	decodeView(t, do(t, h, "POST", shots, `{"label":"9"}`))
	v := decodeView(t, do(t, h, "POST", shots, `{"x":500,"y":380}`))
	assert.Equal(t, "end_committed", v.Outcome)
	assert.Equal(t, 27, v.TotalScore)
	assert.Equal(t, 1, v.CurrentEndIndex)
	assert.Equal(t, "in_progress", v.State)

	stored, err := st.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, stored.Ends, 1)
	require.NotNil(t, stored.Ends[0].Arrows[2].Position)
	assert.Equal(t, 380.0, stored.Ends[0].Arrows[2].Position.Y)

	for range 2 {
		decodeView(t, do(t, h, "POST", shots, `{"label":"10"}`))
	}
	v = decodeView(t, do(t, h, "POST", shots, `{"label":"10"}`))
	assert.Equal(t, "session_completed", v.Outcome)
	assert.Equal(t, 57, v.TotalScore)
	assert.Equal(t, "complete", v.State)
	assert.Equal(t, 1, v.Stats.XCount)
	assert.Equal(t, 4, v.Stats.TenCount)

	v = decodeView(t, do(t, h, "POST", shots, `{"label":"10"}`))
	assert.Equal(t, "ignored", v.Outcome)
	assert.Equal(t, 57, v.TotalScore)
}

func TestRecordShot_BadInput(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	s := createSession(t, h, `{}`)
	shots := "/api/v1/sessions/" + s.ID + "/shots"

	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", shots, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", shots, `{"label":"12"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", shots, `{"x":1}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "POST", "/api/v1/sessions/missing/shots", `{"label":"X"}`).Code)
}

func TestUndoAndEdit_API(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	s := createSession(t, h, `{"totalEnds":3,"arrowsPerEnd":2}`)
	base := "/api/v1/sessions/" + s.ID

	decodeView(t, do(t, h, "POST", base+"/shots", `{"label":"8"}`))
	v := decodeView(t, do(t, h, "POST", base+"/shots", `{"label":"8"}`))
	endID := v.Session.Ends[0].ID
	decodeView(t, do(t, h, "POST", base+"/shots", `{"label":"6"}`))

	v = decodeView(t, do(t, h, "POST", base+"/edit", `{"endId":"`+endID+`","index":0}`))
	require.NotNil(t, v.EditTarget)
	assert.Equal(t, endID, v.EditTarget.EndID)

	v = decodeView(t, do(t, h, "POST", base+"/shots", `{"label":"X"}`))
	assert.Equal(t, "edited", v.Outcome)
	assert.Equal(t, 18, v.TotalScore)
	assert.Len(t, v.CurrentArrows, 1)

	v = decodeView(t, do(t, h, "POST", base+"/edit", `{"endId":"current","index":0}`))
	require.NotNil(t, v.EditTarget)
	assert.Equal(t, "current", v.EditTarget.EndID)
	v = decodeView(t, do(t, h, "DELETE", base+"/edit", ""))
	assert.Nil(t, v.EditTarget)

	v = decodeView(t, do(t, h, "POST", base+"/undo", ""))
	assert.Equal(t, "undone", v.Outcome)
	assert.Empty(t, v.CurrentArrows)

	v = decodeView(t, do(t, h, "POST", base+"/undo", ""))
	assert.Equal(t, "ignored", v.Outcome)
	assert.Equal(t, 18, v.TotalScore)

	v = decodeView(t, do(t, h, "POST", base+"/flush", ""))
	assert.Equal(t, "ignored", v.Outcome)
}

func TestStats_API(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	s := createSession(t, h, `{"totalEnds":1,"arrowsPerEnd":2}`)
	decodeView(t, do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/shots", `{"label":"9"}`))
	decodeView(t, do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/shots", `{"label":"M"}`))

	w := do(t, h, "GET", "/api/v1/stats?range=1w", "")
	require.Equal(t, http.StatusOK, w.Code)
	var d stats.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, stats.RangeWeek, d.Range)
	assert.Equal(t, 9, d.Summary.TotalScore)
	assert.Equal(t, 1, d.Summary.MissCount)
	require.Len(t, d.Trend, 1)
	assert.Equal(t, 4.5, d.Trend[0].AverageArrow)
	assert.Equal(t, 2, d.Global.TotalArrows)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/stats?range=2D", "").Code)
}

func TestStats_APIGlobalCoversAllHistory(t *testing.T) {
	h, st := setupTestServer(t, nil)
	s := createSession(t, h, `{"totalEnds":1,"arrowsPerEnd":1}`)
	decodeView(t, do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/shots", `{"label":"X"}`))

	old := &models.Session{
		Name: "Archive", Date: time.Now().AddDate(-1, -1, 0), TargetType: models.TargetOutdoor,
		TotalEnds: 1, ArrowsPerEnd: 1, IsComplete: true,
		Ends: []models.End{{ID: "arch-1", Number: 1, Arrows: []models.ArrowShot{{Value: 2, Display: "2"}}}},
	}
	require.NoError(t, st.CreateSession(context.Background(), old))

	w := do(t, h, "GET", "/api/v1/stats?range=1M", "")
	require.Equal(t, http.StatusOK, w.Code)
	var d stats.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 10.0, d.Summary.AverageArrow)
	assert.Equal(t, 2, d.Global.Sessions)
	assert.Equal(t, 6.0, d.Global.AverageArrow)
}

func TestFace_API(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	w := do(t, h, "GET", "/api/v1/face?type=WA_INDOOR_TRIPLE", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Type   string  `json:"type"`
		Radius float64 `json:"radius"`
		Size   float64 `json:"size"`
		Rings  []struct {
			Radius float64 `json:"radius"`
			Band   string  `json:"band"`
		} `json:"rings"`
		Keypad [][]string `json:"keypad"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "WA_INDOOR_TRIPLE", body.Type)
	assert.Equal(t, 500.0, body.Radius)
	assert.Equal(t, 1000.0, body.Size)
	require.Len(t, body.Rings, 11)
	assert.Equal(t, 500.0, body.Rings[0].Radius)
	assert.Equal(t, "white", body.Rings[0].Band)
	assert.Equal(t, "X", body.Keypad[0][0])

	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/face?type=NOPE", "").Code)
}

func TestScorePoint_API(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	tests := []struct {
		body    string
		display string
		band    string
	}{
		{`{"x":500,"y":500}`, "X", "gold"},
		{`{"x":1000,"y":500}`, "1", "white"},
		{`{"x":1000.5,"y":500}`, "M", "miss"},
		{`{"x":500,"y":200}`, "5", "blue"},
		{`{"x":500,"y":190}`, "4", "black"},
	}
	for _, tt := range tests {
		w := do(t, h, "POST", "/api/v1/score", tt.body)
		require.Equal(t, http.StatusOK, w.Code)
		var got struct {
			Display string `json:"display"`
			Band    string `json:"band"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, tt.display, got.Display, tt.body)
		assert.Equal(t, tt.band, got.Band, tt.body)
	}
}

func TestCoach_API(t *testing.T) {
	h, st := setupTestServer(t, &fakeCoach{summary: "Group is tight, work on follow-through."})
	s := createSession(t, h, `{}`)

	w := do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/coach?save=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp coachResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Saved)

	stored, err := st.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Group is tight, work on follow-through.", stored.Notes)
}

func TestCoach_Unavailable(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	s := createSession(t, h, `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/coach", "").Code)

	h, _ = setupTestServer(t, &fakeCoach{err: errors.New("rate limited")})
	s = createSession(t, h, `{}`)
	assert.Equal(t, http.StatusBadGateway, do(t, h, "POST", "/api/v1/sessions/"+s.ID+"/coach", "").Code)
}

func TestCORS(t *testing.T) {
	h, _ := setupTestServer(t, nil)

	req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListSessions_Filters(t *testing.T) {
	h, _ := setupTestServer(t, nil)
	done := createSession(t, h, `{"name":"done","totalEnds":1,"arrowsPerEnd":1}`)
	decodeView(t, do(t, h, "POST", "/api/v1/sessions/"+done.ID+"/shots", `{"label":"5"}`))
	createSession(t, h, `{"name":"open"}`)

	w := do(t, h, "GET", "/api/v1/sessions?incomplete=true", "")
	var list []*models.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "open", list[0].Name)

	w = do(t, h, "GET", "/api/v1/sessions?limit=1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/sessions?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/v1/sessions?range=5Y", "").Code)
}
