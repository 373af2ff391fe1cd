package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildreport-agent/src/faults"
	"buildreport-agent/src/transport"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, pageSize int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", &transport.BasicAuth{Username: "admin", Password: "secret"}, transport.NewClient(5*time.Second), pageSize)
}

func TestSearchIssues_Pagination(t *testing.T) {
	const total = 1200
	var requests int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/api/issues/search", r.URL.Path)
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)

		ps, _ := strconv.Atoi(r.URL.Query().Get("ps"))
		p, _ := strconv.Atoi(r.URL.Query().Get("p"))
		start := (p - 1) * ps
		end := min(start+ps, total)

		issues := make([]map[string]interface{}, 0, ps)
		for i := start; i < end; i++ {
			issues = append(issues, map[string]interface{}{
				"key":          fmt.Sprintf("issue-%d", i),
				"rule":         "java:S100",
				"severity":     "MAJOR",
				"component":    "proj:src/A.java",
				"status":       "OPEN",
				"effort":       "5m",
				"creationDate": "2016-05-20T13:26:04+0200",
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"total": total, "p": p, "ps": ps, "issues": issues})
	}, 500)

	issues, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj"})
	require.NoError(t, err)
	assert.Len(t, issues, total)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	assert.Equal(t, "issue-0", issues[0].Key)
	assert.Equal(t, "issue-1199", issues[total-1].Key)
}

func TestSearchIssues_QueryParameters(t *testing.T) {
	createdAfter := time.Date(2016, 5, 20, 13, 26, 4, 0, time.FixedZone("", 2*3600))

	t.Run("new issues", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "proj", q.Get("componentKeys"))
			assert.Equal(t, "false", q.Get("resolved"))
			assert.Equal(t, "2016-05-20T13:26:04+0200", q.Get("createdAfter"))
			assert.Empty(t, q.Get("s"))
			assert.Equal(t, "1", q.Get("p"))
			w.Write([]byte(`{"total":0,"issues":[]}`))
		}, 0)

		_, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj", CreatedAfter: &createdAfter})
		require.NoError(t, err)
	})

	t.Run("fixed issues", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "true", q.Get("resolved"))
			assert.Equal(t, "UPDATE_DATE", q.Get("s"))
			assert.Equal(t, "false", q.Get("asc"))
			assert.Empty(t, q.Get("createdAfter"))
			w.Write([]byte(`{"paging":{"pageIndex":1,"pageSize":500,"total":0},"issues":[]}`))
		}, 0)

		_, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj", Resolved: true, SortByUpdate: true})
		require.NoError(t, err)
	})
}

func TestSearchIssues_Conversion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":2,"issues":[
			{"key":"a","rule":"common-java:DuplicatedBlocks","severity":"MAJOR","component":"proj:src/A.java",
			 "status":"CLOSED","resolution":"FIXED","message":"dup","effort":"1h30m",
			 "creationDate":"2016-05-01T10:00:00+0000","updateDate":"2016-05-21T10:00:00+0000","closeDate":"2016-05-21T10:00:00+0000",
			 "textRange":{"startLine":3,"endLine":9,"startOffset":0,"endOffset":12}},
			{"key":"b","rule":"java:S100","severity":"MINOR","component":"proj:src/B.java","status":"OPEN",
			 "debt":"45m","creationDate":"2016-05-01T10:00:00+0000"}]}`))
	}, 0)

	issues, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj"})
	require.NoError(t, err)
	require.Len(t, issues, 2)

	a := issues[0]
	assert.Equal(t, "common-java:DuplicatedBlocks", a.RuleID)
	assert.Equal(t, "FIXED", a.Resolution)
	assert.Equal(t, "1h30m", a.RemainingEffort)
	require.NotNil(t, a.ClosedAt)
	assert.True(t, a.ClosedAt.Equal(time.Date(2016, 5, 21, 10, 0, 0, 0, time.UTC)))
	require.NotNil(t, a.TextRange)
	assert.Equal(t, 3, a.TextRange.StartLine)
	assert.Equal(t, 9, a.TextRange.EndLine)

	b := issues[1]
	assert.Equal(t, "45m", b.RemainingEffort, "falls back to debt")
	assert.Nil(t, b.UpdatedAt)
	assert.Nil(t, b.ClosedAt)
	assert.Nil(t, b.TextRange)
}

func TestSearchIssues_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, 0)
		_, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj"})
		assert.ErrorIs(t, err, faults.ErrUpstreamUnavailable)
	})

	t.Run("malformed creation date", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"total":1,"issues":[{"key":"a","creationDate":"2016-05-01 10:00:00"}]}`))
		}, 0)
		_, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "proj"})
		assert.ErrorIs(t, err, faults.ErrMalformedTimestamp)
	})
}

func TestDuplications(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/duplications/show", r.URL.Path)
		assert.Equal(t, "proj:src/A.java", r.URL.Query().Get("key"))
		w.Write([]byte(`{
			"duplications":[
				{"blocks":[{"from":94,"size":101,"_ref":"1"},{"from":83,"size":101,"_ref":"2"}]},
				{"blocks":[{"from":10,"size":5,"_ref":"1"}]}],
			"files":{
				"1":{"key":"proj:src/A.java","uuid":"u1","name":"src/A.java"},
				"2":{"key":"proj:src/B.java","uuid":"u2","name":"src/B.java"}}}`))
	}, 0)

	set, err := client.Duplications(context.Background(), "proj:src/A.java")
	require.NoError(t, err)
	assert.Equal(t, "proj:src/A.java", set.ComponentRef)
	require.Len(t, set.Groups, 2)
	require.Len(t, set.Groups[0].Blocks, 2)
	assert.Equal(t, 94, set.Groups[0].Blocks[0].StartLine)
	assert.Equal(t, 101, set.Groups[0].Blocks[0].BlockSize)
	assert.Equal(t, "2", set.Groups[0].Blocks[1].FileRef)
	assert.Equal(t, "src/B.java", set.Files["2"].DisplayName)
	assert.Equal(t, "2", set.Files["2"].Ref)
	assert.Equal(t, "u1", set.Files["1"].UUID)
}

func TestLatestTask(t *testing.T) {
	t.Run("returns newest task", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/ce/activity", r.URL.Path)
			assert.Equal(t, "proj", r.URL.Query().Get("component"))
			assert.Equal(t, "true", r.URL.Query().Get("onlyCurrents"))
			w.Write([]byte(`{"tasks":[{"id":"T1","type":"REPORT","componentKey":"proj","status":"SUCCESS",
				"submittedAt":"2016-05-20T13:26:00+0200","startedAt":"2016-05-20T13:26:04+0200","executedAt":"2016-05-20T13:26:09+0200"}]}`))
		}, 0)

		task, err := client.LatestTask(context.Background(), "proj")
		require.NoError(t, err)
		require.NotNil(t, task)
		assert.Equal(t, "T1", task.ID)
		assert.True(t, task.Finished())
		require.NotNil(t, task.StartedAt)
		assert.True(t, task.StartedAt.Equal(time.Date(2016, 5, 20, 11, 26, 4, 0, time.UTC)))
	})

	t.Run("no tasks", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tasks":[]}`))
		}, 0)

		task, err := client.LatestTask(context.Background(), "proj")
		require.NoError(t, err)
		assert.Nil(t, task)
	})

	t.Run("pending task without start time", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tasks":[{"id":"T2","status":"PENDING","submittedAt":"2016-05-20T13:26:00+0200"}]}`))
		}, 0)

		task, err := client.LatestTask(context.Background(), "proj")
		require.NoError(t, err)
		assert.False(t, task.Finished())
		assert.Nil(t, task.StartedAt)
	})
}
