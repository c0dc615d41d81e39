package e2e

import (
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealth checks the unauthenticated health endpoints.
func TestHealth(t *testing.T) {
	resp, _ := httpDo(t, http.MethodGet, rootURL()+"/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := httpDo(t, http.MethodGet, rootURL()+"/readyz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "readyz: %s", body)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	resp, body := httpDo(t, http.MethodGet, backupAPIURL+"/backups", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
}

// TestFullBackupLifecycle triggers a full backup and follows it to completion:
// trigger -> running -> completed -> files recorded -> activity recorded -> listed.
func TestFullBackupLifecycle(t *testing.T) {
	created := triggerBackup(t, "full", e2eDatabase)
	id := jobID(t, created)
	require.Equal(t, "running", created["status"])
	require.NotEmpty(t, created["job_uuid"])
	require.NotEmpty(t, created["backup_path"])
	t.Logf("triggered job %d", id)

	job := waitForTerminal(t, id, jobTimeout)
	require.Equal(t, "completed", job["status"], "job: %v", job)
	assert.EqualValues(t, 100, job["progress_percentage"])
	assert.NotNil(t, job["end_time"])
	assert.NotNil(t, job["duration_seconds"])
	size, _ := job["file_size_bytes"].(float64)
	assert.Greater(t, size, float64(0))

	resp, body := httpGet(t, jobURL(id)+"/files")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	files := parseItems(t, body)
	require.NotEmpty(t, files)
	for _, f := range files {
		assert.EqualValues(t, id, f["job_id"])
		assert.NotEmpty(t, f["file_path"])
	}

	resp, body = httpGet(t, jobURL(id)+"/activity")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var actions []string
	for _, a := range parseItems(t, body) {
		actions = append(actions, fmt.Sprint(a["action"]))
	}
	assert.Contains(t, actions, "job_started")
	assert.Contains(t, actions, "job_completed")

	resp, body = httpGet(t, jobURL(id)+"/logs")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = httpGet(t, fmt.Sprintf("%s/backups?job_id=%d", backupAPIURL, id))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	items := parseItems(t, body)
	require.Len(t, items, 1)
	assert.Equal(t, "completed", items[0]["status"])
}

// TestConcurrentTriggersHitCeiling fires more triggers than the admission
// ceiling allows and expects the surplus to be refused with 429.
func TestConcurrentTriggersHitCeiling(t *testing.T) {
	const attempts = 8

	var (
		mu       sync.Mutex
		accepted []int64
		denied   int
		wg       sync.WaitGroup
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, body := httpPost(t, backupAPIURL+"/backups", map[string]interface{}{
				"backup_type": "full",
				"databases":   []string{e2eDatabase},
			})
			mu.Lock()
			defer mu.Unlock()
			switch resp.StatusCode {
			case http.StatusAccepted:
				accepted = append(accepted, int64(parseJSON(t, body)["job_id"].(float64)))
			case http.StatusTooManyRequests:
				denied++
			default:
				t.Errorf("unexpected status %d: %s", resp.StatusCode, body)
			}
		}()
	}
	wg.Wait()

	t.Cleanup(func() {
		for _, id := range accepted {
			cancelAndWait(t, id)
		}
	})

	require.NotEmpty(t, accepted)
	assert.Greater(t, denied, 0, "expected some triggers to be refused")
	assert.Equal(t, attempts, len(accepted)+denied)
}

func TestCancelRunningJob(t *testing.T) {
	created := triggerBackup(t, "full", e2eDatabase)
	id := jobID(t, created)

	resp, body := httpPost(t, jobURL(id)+"/cancel", nil)
	if resp.StatusCode == http.StatusConflict {
		t.Skipf("job %d finished before it could be cancelled: %s", id, body)
	}
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	job := waitForTerminal(t, id, jobTimeout)
	assert.Equal(t, "cancelled", job["status"])

	resp, _ = httpPost(t, jobURL(id)+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTriggerValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown type", map[string]interface{}{"backup_type": "snapshot", "databases": []string{e2eDatabase}}},
		{"no databases", map[string]interface{}{"backup_type": "full", "databases": []string{}}},
		{"bad name", map[string]interface{}{"backup_type": "full", "databases": []string{"x; DROP"}}},
		{"not allowed", map[string]interface{}{"backup_type": "full", "databases": []string{"mysql"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := httpPost(t, backupAPIURL+"/backups", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		})
	}
}

func TestGetUnknownJob(t *testing.T) {
	resp, _ := httpGet(t, jobURL(999999999))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = httpGet(t, backupAPIURL+"/backups/abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestDeleteRules checks that completed jobs are protected while a
// cancelled job can be removed.
func TestDeleteRules(t *testing.T) {
	created := triggerBackup(t, "full", e2eDatabase)
	id := jobID(t, created)

	resp, body := httpPost(t, jobURL(id)+"/cancel", nil)
	if resp.StatusCode == http.StatusConflict {
		t.Skipf("job %d finished before it could be cancelled: %s", id, body)
	}
	job := waitForTerminal(t, id, jobTimeout)
	require.Equal(t, "cancelled", job["status"])

	resp, body = httpDelete(t, jobURL(id))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	resp, _ = httpGet(t, jobURL(id))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = httpGet(t, backupAPIURL+"/backups?status=completed&limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	items := parseItems(t, body)
	if len(items) == 0 {
		t.Skip("no completed job to check delete protection against")
	}
	resp, body = httpDelete(t, jobURL(jobID(t, items[0])))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
}

func TestStats(t *testing.T) {
	resp, body := httpGet(t, backupAPIURL+"/backups/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	stats := parseJSON(t, body)
	assert.Contains(t, stats, "by_status")
	assert.Contains(t, stats, "total")
	assert.Contains(t, stats, "admission")
}
