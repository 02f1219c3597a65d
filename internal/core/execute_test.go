package core

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignaciocaff/dataprovider/pkg/model"
)

func usersServer() *fakeServer {
	s := newFakeServer()
	s.columns = []string{"ID", "NAME", "BOGUS_COL"}
	s.rows = [][]driver.Value{
		{int64(1), "Ada", "x"},
		{int64(2), "Grace", "y"},
	}
	return s
}

func TestExecuteReaderCommitsOnEmptyMessage(t *testing.T) {
	s := usersServer()
	s.outputs[ReturnValueName] = ""
	obs := &recordingObserver{}
	e := newTestEngine(t, s, usersCatalog(), obs)

	params := model.NewParameterCollection("GET_USERS")
	users, out, err := ExecuteReader[user](context.Background(), e, params, CallOptions{})
	require.NoError(t, err)

	require.Len(t, users, 2)
	assert.Equal(t, "Ada", users[0].Name)
	assert.Equal(t, "", out.ReturnMessage)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, s.committed())
	assert.Equal(t, 0, s.rolledBack())
	assert.Equal(t, []Shape{ShapeReader}, obs.shapes)

	v, ok := s.arg("P_STATUS")
	assert.True(t, ok, "unsupplied inputs bind as NULL")
	assert.Nil(t, v)
}

func TestExecuteReaderRollsBackOnReturnMessage(t *testing.T) {
	s := usersServer()
	s.outputs[ReturnValueName] = "USER_NOT_FOUND"
	e := newTestEngine(t, s, usersCatalog(), nil)

	users, out, err := ExecuteReader[user](context.Background(), e, model.NewParameterCollection("GET_USERS"), CallOptions{})
	require.NoError(t, err)

	assert.Len(t, users, 2)
	assert.Equal(t, "USER_NOT_FOUND", out.ReturnMessage)
	assert.Equal(t, StatusProcedureFailure, out.Status)
	assert.Equal(t, 0, s.committed())
	assert.Equal(t, 1, s.rolledBack())
}

func TestExecuteReaderInfrastructureFailure(t *testing.T) {
	s := usersServer()
	s.queryErr = errors.New("ORA-03113: end-of-file on communication channel")
	db := newFakeDB(t, s)
	e := NewEngine(NewConnectionManager(Settings{}, usersCatalog(), db, zerolog.Nop()), zerolog.Nop(), nil)

	users, out, err := ExecuteReader[user](context.Background(), e, model.NewParameterCollection("GET_USERS"), CallOptions{})
	require.NoError(t, err)

	assert.NotNil(t, users)
	assert.Empty(t, users)
	assert.Equal(t, StatusInfrastructureFailure, out.Status)
	assert.Contains(t, out.ReturnMessage, "ORA-03113")
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestExecuteBasicReturnsOutputs(t *testing.T) {
	s := newFakeServer()
	s.outputs["P_TOTAL"] = int64(15)
	e := newTestEngine(t, s, usersCatalog(), nil)

	params := model.NewParameterCollection("SAVE_USER").
		In("P_ID", 1).
		In("P_NAME", "Ada").
		Out("P_TOTAL", 10).
		Out("", nil).
		Out(ReturnValueName, nil)

	out, err := e.ExecuteBasic(context.Background(), params, CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []model.Parameter{
		{Name: "P_TOTAL", Value: int64(15)},
		{Name: ReturnValueName, Value: ""},
	}, out.Outputs)
	assert.Equal(t, 1, s.committed())

	seed, _ := s.arg("P_TOTAL")
	assert.Equal(t, int64(10), seed)

	// the caller's collection is left as it was
	assert.Equal(t, 10, params.Outputs[0].Value)
}

func TestExecuteBasicClosesOutputCursors(t *testing.T) {
	s := newFakeServer()
	cursor := newFakeRows([]string{"ID"}, []driver.Value{int64(1)})
	s.outputs["P_CURSOR"] = cursor
	e := newTestEngine(t, s, usersCatalog(), nil)

	params := model.NewParameterCollection("SAVE_USER").
		In("P_ID", 1).
		Out("P_CURSOR", nil)

	out, err := e.ExecuteBasic(context.Background(), params, CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []model.Parameter{{Name: "P_CURSOR", Value: ""}}, out.Outputs)
	assert.True(t, cursor.closed)
	assert.Equal(t, 1, s.committed())
}

func TestExecuteStoredProcedureClosesUnmappedCursors(t *testing.T) {
	s := newFakeServer()
	first := newFakeRows([]string{"ID"}, []driver.Value{int64(4)})
	second := newFakeRows([]string{"ID"}, []driver.Value{int64(5)})
	s.outputs["P_USERS"] = first
	s.outputs["P_ARCHIVED"] = second
	d := &fakeDialect{catalog: map[string][]FormalParameter{
		"GET_REPORT": {
			{Name: "P_USERS", Direction: DirectionOutput, DataType: "REF CURSOR", Position: 1},
			{Name: "P_ARCHIVED", Direction: DirectionOutput, DataType: "REF CURSOR", Position: 2},
		},
	}}
	e := newTestEngine(t, s, d, nil)

	params := model.NewParameterCollection("GET_REPORT").Out("P_ARCHIVED", nil)
	users, out, err := ExecuteStoredProcedure[user](context.Background(), e, params, CallOptions{})
	require.NoError(t, err)

	require.Len(t, users, 1)
	assert.Equal(t, int64(4), users[0].ID)
	assert.Equal(t, []model.Parameter{{Name: "P_ARCHIVED", Value: ""}}, out.Outputs)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestExecuteBasicBindingFailureStillExecutes(t *testing.T) {
	s := newFakeServer()
	obs := &recordingObserver{}
	e := newTestEngine(t, s, usersCatalog(), obs)

	params := model.NewParameterCollection("SAVE_USER").
		In("P_ID", 1).
		In("P_OLD_NAME", "Ada")

	out, err := e.ExecuteBasic(context.Background(), params, CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"SAVE_USER"}, obs.bindings)
	id, _ := s.arg("P_ID")
	assert.Equal(t, int64(1), id)
	name, ok := s.arg("P_NAME")
	assert.True(t, ok)
	assert.Nil(t, name)
}

func TestExecuteBasicDerivationFailureBecomesMessage(t *testing.T) {
	s := newFakeServer()
	db := newFakeDB(t, s)
	e := NewEngine(NewConnectionManager(Settings{}, usersCatalog(), db, zerolog.Nop()), zerolog.Nop(), nil)

	out, err := e.ExecuteBasic(context.Background(), model.NewParameterCollection("MISSING"), CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusInfrastructureFailure, out.Status)
	assert.Contains(t, out.ReturnMessage, "procedure not found")
	assert.Empty(t, s.queries)
	assert.Equal(t, 1, s.committed())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestExecuteBasicCommitFailureBecomesMessage(t *testing.T) {
	s := newFakeServer()
	s.commitErr = errors.New("ORA-02091: transaction rolled back")
	e := newTestEngine(t, s, usersCatalog(), nil)

	out, err := e.ExecuteBasic(context.Background(), model.NewParameterCollection("GET_USERS"), CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusInfrastructureFailure, out.Status)
	assert.Contains(t, out.ReturnMessage, "commit")
	assert.Contains(t, out.ReturnMessage, "ORA-02091")
}

func TestExecuteStoredProcedureMapsOutputCursor(t *testing.T) {
	s := newFakeServer()
	cursor := newFakeRows([]string{"ID", "NAME"},
		[]driver.Value{int64(3), "Linus"},
	)
	s.outputs["P_CURSOR"] = cursor
	s.outputs["P_TOTAL"] = int64(1)
	s.outputs[ReturnValueName] = ""
	e := newTestEngine(t, s, usersCatalog(), nil)

	params := model.NewParameterCollection("SAVE_USER").
		In("P_ID", 3).
		Out("P_TOTAL", nil)

	users, out, err := ExecuteStoredProcedure[user](context.Background(), e, params, CallOptions{})
	require.NoError(t, err)

	require.Len(t, users, 1)
	assert.Equal(t, int64(3), users[0].ID)
	assert.Equal(t, "Linus", users[0].Name)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []model.Parameter{{Name: "P_TOTAL", Value: int64(1)}}, out.Outputs)
	assert.True(t, cursor.closed)
	assert.Equal(t, 1, s.committed())
}

func TestExecuteStoredProcedureWithoutCursorIsEmpty(t *testing.T) {
	s := newFakeServer()
	s.outputs[ReturnValueName] = "NO_DATA"
	e := newTestEngine(t, s, usersCatalog(), nil)

	users, out, err := ExecuteStoredProcedure[user](context.Background(), e, model.NewParameterCollection("GET_USERS"), CallOptions{})
	require.NoError(t, err)

	assert.NotNil(t, users)
	assert.Empty(t, users)
	assert.Equal(t, "NO_DATA", out.ReturnMessage)
	assert.Equal(t, 1, s.rolledBack())
}

func TestExecuteFatalErrors(t *testing.T) {
	s := newFakeServer()
	e := newTestEngine(t, s, usersCatalog(), nil)
	ctx := context.Background()

	_, err := e.ExecuteBasic(ctx, nil, CallOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.ExecuteBasic(ctx, model.NewParameterCollection(""), CallOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.ExecuteBasic(ctx, model.NewParameterCollection("GET_USERS"), CallOptions{RequireIdentityContext: true})
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, _, err = e.Query(ctx, model.NewParameterCollection("GET_USERS"), CallOptions{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	unconfigured := NewEngine(NewConnectionManager(Settings{}, usersCatalog(), nil, zerolog.Nop()), zerolog.Nop(), nil)
	_, err = unconfigured.ExecuteBasic(ctx, model.NewParameterCollection("GET_USERS"), CallOptions{})
	assert.ErrorIs(t, err, ErrConfiguration)

	assert.Empty(t, s.queries)
}

func TestExecuteOpenFailureBecomesMessage(t *testing.T) {
	obs := &recordingObserver{}
	conns := NewConnectionManager(Settings{ConnectionString: "dsn"}, &fakeDialect{}, nil, zerolog.Nop())
	e := NewEngine(conns, zerolog.Nop(), obs)

	out, err := e.ExecuteBasic(context.Background(), model.NewParameterCollection("GET_USERS").Out("P_X", nil), CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusInfrastructureFailure, out.Status)
	assert.NotEmpty(t, out.ReturnMessage)
	assert.Equal(t, []model.Parameter{{Name: "P_X", Value: ""}}, out.Outputs)
	require.Len(t, obs.calls, 1)
}

type panickingDialect struct{ *fakeDialect }

func (panickingDialect) Bind(*Command) (string, []any, func()) {
	panic("renderer exploded")
}

func TestExecutePanicIsRecoveredAndReleased(t *testing.T) {
	s := newFakeServer()
	db := newFakeDB(t, s)
	d := panickingDialect{usersCatalog()}
	e := NewEngine(NewConnectionManager(Settings{}, d, db, zerolog.Nop()), zerolog.Nop(), nil)

	out, err := e.ExecuteBasic(context.Background(), model.NewParameterCollection("GET_USERS"), CallOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusInfrastructureFailure, out.Status)
	assert.Contains(t, out.ReturnMessage, "renderer exploded")
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestExecuteConcurrentCallsAreIndependent(t *testing.T) {
	s := usersServer()
	s.outputs[ReturnValueName] = ""
	db := newFakeDB(t, s)
	e := NewEngine(NewConnectionManager(Settings{}, usersCatalog(), db, zerolog.Nop()), zerolog.Nop(), nil)

	const calls = 8
	var wg sync.WaitGroup
	results := make([]int, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			users, out, err := ExecuteReader[user](context.Background(), e, model.NewParameterCollection("GET_USERS"), CallOptions{})
			if err == nil && out.Status == StatusSuccess {
				results[i] = len(users)
			}
		}(i)
	}
	wg.Wait()

	for i, n := range results {
		assert.Equal(t, 2, n, "call %d", i)
	}
	assert.Equal(t, calls, s.committed())
	assert.Equal(t, 0, db.Stats().InUse)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "idle", stageIdle.String())
	assert.Equal(t, "released", stageReleased.String())
	assert.Equal(t, "stage(42)", stage(42).String())
}
