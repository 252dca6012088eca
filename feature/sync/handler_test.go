package sync

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"matricula-sync/core/database"
	"matricula-sync/feature/sync/models"
	"matricula-sync/feature/sync/reconcile"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupApp(t *testing.T, cfg Config, broker Enqueuer) *fiber.App {
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	log := zap.NewNop()
	svc := NewService(cfg, db, reconcile.NewReconciler(db, log), broker, nil, NewArchiver(nil, "", log), log)
	app := fiber.New()
	NewHandler(svc, log).RegisterRoutes(app)
	return app
}

func postSync(t *testing.T, app *fiber.App, body any) (int, map[string]json.RawMessage) {
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/sync/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &decoded))
	return resp.StatusCode, decoded
}

func TestHandleSubmitInline(t *testing.T) {
	app := setupApp(t, Config{}, nil)

	status, body := postSync(t, app, SubmitRequest{
		Batch: []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
	})
	assert.Equal(t, fiber.StatusOK, status)

	var batchStatus string
	require.NoError(t, json.Unmarshal(body["status"], &batchStatus))
	assert.Equal(t, string(models.BatchCompleted), batchStatus)
	assert.Contains(t, body, "mappings")

	// The response carries the success flag and the watermark the device
	// stores as its next last_sync.
	var success bool
	require.NoError(t, json.Unmarshal(body["success"], &success))
	assert.True(t, success)
	assert.Contains(t, body, "synced_at")
}

func TestHandleSubmitQueued(t *testing.T) {
	app := setupApp(t, Config{InlineThreshold: 1}, &fakeEnqueuer{})

	status, body := postSync(t, app, SubmitRequest{
		Batch: []reconcile.ChangeItem{
			respItem(t, "tmp-1", "Maria", "111"),
			respItem(t, "tmp-2", "Joana", "222"),
		},
	})
	assert.Equal(t, fiber.StatusAccepted, status)

	var batchStatus string
	require.NoError(t, json.Unmarshal(body["status"], &batchStatus))
	assert.Equal(t, string(models.BatchProcessing), batchStatus)
	assert.Contains(t, body, "batch_id")
}

func TestHandleSubmitValidation(t *testing.T) {
	app := setupApp(t, Config{}, nil)

	status, body := postSync(t, app, SubmitRequest{})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "error")

	// Malformed JSON body.
	req := httptest.NewRequest("POST", "/sync/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus(t *testing.T) {
	app := setupApp(t, Config{}, nil)

	_, body := postSync(t, app, SubmitRequest{
		Batch: []reconcile.ChangeItem{respItem(t, "tmp-1", "Maria", "111")},
	})
	var batchID string
	require.NoError(t, json.Unmarshal(body["batch_id"], &batchID))

	req := httptest.NewRequest("GET", "/sync/status/"+batchID, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var outcome Outcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcome))
	assert.Equal(t, batchID, outcome.BatchID)
	assert.Equal(t, models.BatchCompleted, outcome.Status)
}

func TestHandleStatusUnknown(t *testing.T) {
	app := setupApp(t, Config{}, nil)

	req := httptest.NewRequest("GET", "/sync/status/does-not-exist", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleConflicts(t *testing.T) {
	app := setupApp(t, Config{}, nil)

	req := httptest.NewRequest("GET", "/sync/conflicts", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Conflicts []models.EditConflict `json:"conflicts"`
		Count     int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.Count)
}
