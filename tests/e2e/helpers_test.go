package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edvin/logistica/internal/api/middleware"
)

// backupAPIURL is the base URL for the backup API.
// Override with BACKUP_API_URL env var.
var backupAPIURL = "http://localhost:8090/api/v1"

// jobTimeout bounds how long a test waits for a job to finish.
var jobTimeout = 10 * time.Minute

// e2eDatabase is the database the tests back up.
var e2eDatabase = "viaggi_db"

var token string

func TestMain(m *testing.M) {
	if os.Getenv("BACKUP_E2E") == "" {
		fmt.Println("Skipping e2e tests (set BACKUP_E2E=1 to run)")
		os.Exit(0)
	}
	if u := os.Getenv("BACKUP_API_URL"); u != "" {
		backupAPIURL = strings.TrimRight(u, "/")
	}
	if d := os.Getenv("BACKUP_E2E_DATABASE"); d != "" {
		e2eDatabase = d
	}
	if v := os.Getenv("BACKUP_E2E_JOB_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			fmt.Printf("invalid BACKUP_E2E_JOB_TIMEOUT: %v\n", err)
			os.Exit(2)
		}
		jobTimeout = d
	}

	token = os.Getenv("BACKUP_E2E_TOKEN")
	if token == "" {
		secret := os.Getenv("AUTH_JWT_SECRET")
		if secret == "" {
			fmt.Println("BACKUP_E2E_TOKEN or AUTH_JWT_SECRET must be set")
			os.Exit(2)
		}
		var err error
		token, err = middleware.IssueToken([]byte(secret), "e2e", "operator", time.Hour)
		if err != nil {
			fmt.Printf("issue token: %v\n", err)
			os.Exit(2)
		}
	}
	os.Exit(m.Run())
}

// rootURL strips the /api/v1 suffix for the health endpoints.
func rootURL() string {
	return strings.TrimSuffix(backupAPIURL, "/api/v1")
}

func httpDo(t *testing.T, method, url string, body interface{}, bearer string) (*http.Response, string) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal %s body: %v", method, err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("create %s request %s: %v", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

// httpGet performs an authenticated HTTP GET and returns the response and body string.
func httpGet(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	return httpDo(t, http.MethodGet, url, nil, token)
}

// httpPost performs an authenticated HTTP POST with a JSON body.
func httpPost(t *testing.T, url string, body interface{}) (*http.Response, string) {
	t.Helper()
	return httpDo(t, http.MethodPost, url, body, token)
}

func httpPut(t *testing.T, url string, body interface{}) (*http.Response, string) {
	t.Helper()
	return httpDo(t, http.MethodPut, url, body, token)
}

func httpDelete(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	return httpDo(t, http.MethodDelete, url, nil, token)
}

// parseJSON unmarshals a JSON response body into a map.
func parseJSON(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseItems extracts the "items" array from a list response.
func parseItems(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	wrapper := parseJSON(t, body)
	items, ok := wrapper["items"]
	if !ok {
		t.Fatalf("response missing 'items' key: %s", body)
	}
	raw, _ := json.Marshal(items)
	var result []map[string]interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("parse items: %v", err)
	}
	return result
}

// jobID reads the numeric job_id field of a job document.
func jobID(t *testing.T, doc map[string]interface{}) int64 {
	t.Helper()
	id, ok := doc["job_id"].(float64)
	require.True(t, ok, "job_id missing: %v", doc)
	return int64(id)
}

func jobURL(id int64) string {
	return fmt.Sprintf("%s/backups/%d", backupAPIURL, id)
}

// triggerBackup starts a backup and returns the 202 response body.
func triggerBackup(t *testing.T, backupType string, databases ...string) map[string]interface{} {
	t.Helper()
	resp, body := httpPost(t, backupAPIURL+"/backups", map[string]interface{}{
		"backup_type": backupType,
		"databases":   databases,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "trigger backup: %s", body)
	return parseJSON(t, body)
}

// waitForTerminal polls a job until it leaves the running state or the
// timeout elapses. Returns the final job document.
func waitForTerminal(t *testing.T, id int64, timeout time.Duration) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastBody string
	for time.Now().Before(deadline) {
		resp, body := httpGet(t, jobURL(id))
		require.Equal(t, http.StatusOK, resp.StatusCode, "get job: %s", body)
		job := parseJSON(t, body)
		lastBody = body
		if status, _ := job["status"].(string); status != "running" {
			return job
		}
		time.Sleep(2 * time.Second)
	}

	t.Fatalf("timed out waiting for job %d to finish (last body=%s)", id, lastBody)
	return nil
}

// cancelAndWait cancels a job if it is still running and waits for it to settle.
func cancelAndWait(t *testing.T, id int64) {
	t.Helper()
	resp, body := httpPost(t, jobURL(id)+"/cancel", nil)
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel job %d: status %d body=%s", id, resp.StatusCode, body)
	}
	waitForTerminal(t, id, time.Minute)
}
