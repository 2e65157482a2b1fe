package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/api"
	"github.com/alwitt/stockpile/config"
	"github.com/alwitt/stockpile/models"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/lxzan/gws"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
)

type testClient struct {
	t      *testing.T
	router http.Handler
}

func newTestClient(t *testing.T) (testClient, *stockpile.InventoryService) {
	assert := assert.New(t)
	gin.SetMode(gin.TestMode)

	cfg, err := config.Default()
	assert.Nil(err)
	cfg.Database.DSN = fmt.Sprintf("/tmp/stockpile_ut_%s.db", ulid.Make().String())

	service, err := stockpile.NewInventoryService(context.Background(), cfg)
	assert.Nil(err)
	t.Cleanup(func() { _ = service.Close(context.Background()) })

	router := api.NewRouter(service, api.Options{SubscriberBuffer: 16, MaxImportSize: 4096})
	return testClient{t: t, router: router}, service
}

func (tc testClient) do(method, path, role, body string) (int, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set(api.HeaderRole, role)
	}
	req.Header.Set(api.HeaderUser, "tester")
	resp := httptest.NewRecorder()
	tc.router.ServeHTTP(resp, req)
	return resp.Code, resp.Body.Bytes()
}

func TestAPIRecordLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	tc, _ := newTestClient(t)

	// Create
	status, body := tc.do(
		http.MethodPost,
		"/api/v1/collections/mfu",
		api.RoleAdmin,
		`{"name":"Copier","model":"X1","inventoryNumber":"MFU-1","status":"in_use","price":300}`,
	)
	assert.Equal(http.StatusCreated, status)
	var created models.MFU
	assert.Nil(json.Unmarshal(body, &created))
	assert.NotEmpty(created.ID)

	// Read
	status, body = tc.do(http.MethodGet, "/api/v1/collections/mfu/"+created.ID, "", "")
	assert.Equal(http.StatusOK, status)
	var fetched models.MFU
	assert.Nil(json.Unmarshal(body, &fetched))
	assert.Equal("Copier", fetched.Name)

	status, body = tc.do(http.MethodGet, "/api/v1/collections/mfu", api.RoleViewer, "")
	assert.Equal(http.StatusOK, status)
	var listed []models.MFU
	assert.Nil(json.Unmarshal(body, &listed))
	assert.Len(listed, 1)

	// Update
	status, body = tc.do(
		http.MethodPut, "/api/v1/collections/mfu/"+created.ID, api.RoleAdmin, `{"cartridgePrice":45}`,
	)
	assert.Equal(http.StatusOK, status)
	var updated models.MFU
	assert.Nil(json.Unmarshal(body, &updated))
	assert.NotNil(updated.CartridgePrice)

	// History through both routes
	status, body = tc.do(
		http.MethodGet,
		fmt.Sprintf("/api/v1/history?collection=mfu&recordId=%s", created.ID),
		"",
		"",
	)
	assert.Equal(http.StatusOK, status)
	var entries []models.AuditEntry
	assert.Nil(json.Unmarshal(body, &entries))
	assert.Len(entries, 2)
	assert.Equal("cartridgePrice", entries[0].Field)
	assert.Equal("tester", entries[0].User)

	status, body = tc.do(http.MethodGet, "/api/v1/collections/history?limit=1", "", "")
	assert.Equal(http.StatusOK, status)
	assert.Nil(json.Unmarshal(body, &entries))
	assert.Len(entries, 1)

	// Stats
	status, body = tc.do(http.MethodGet, "/api/v1/stats", "", "")
	assert.Equal(http.StatusOK, status)
	var statistics models.Statistics
	assert.Nil(json.Unmarshal(body, &statistics))
	assert.InDelta(345.0, statistics.TotalValue, 1e-9)

	// Delete
	status, body = tc.do(http.MethodDelete, "/api/v1/collections/mfu/"+created.ID, api.RoleAdmin, "")
	assert.Equal(http.StatusOK, status)
	assert.JSONEq(`{"success":true}`, string(body))
	status, _ = tc.do(http.MethodGet, "/api/v1/collections/mfu/"+created.ID, "", "")
	assert.Equal(http.StatusNotFound, status)
}

func TestAPIErrorMapping(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	tc, _ := newTestClient(t)

	type testCase struct {
		method string
		path   string
		role   string
		body   string
		status int
	}
	cases := []testCase{
		// Viewers cannot mutate
		{http.MethodPost, "/api/v1/collections/devices", "", `{"name":"x"}`, http.StatusForbidden},
		{http.MethodPost, "/api/v1/collections/devices", api.RoleViewer, `{}`, http.StatusForbidden},
		{http.MethodPost, "/api/v1/backups", "", "", http.StatusForbidden},
		{http.MethodGet, "/api/v1/collections/devices", "root", "", http.StatusForbidden},
		// Unknown collection
		{http.MethodGet, "/api/v1/collections/gadgets", "", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/collections/gadgets", api.RoleAdmin, `{}`, http.StatusNotFound},
		// Validation
		{http.MethodPost, "/api/v1/collections/devices", api.RoleAdmin, `{"name":"x"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/collections/history", api.RoleAdmin, `{}`, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/history?limit=lots", "", "", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/history?limit=-3", "", "", http.StatusBadRequest},
		// Missing
		{http.MethodGet, "/api/v1/collections/devices/nope", "", "", http.StatusNotFound},
		{http.MethodPut, "/api/v1/collections/devices/nope", api.RoleAdmin, `{"price":1}`, http.StatusNotFound},
		{http.MethodPost, "/api/v1/backups/nope/restore", api.RoleAdmin, "", http.StatusNotFound},
		// Corrupt import
		{http.MethodPost, "/api/v1/import", api.RoleAdmin, `{"employees": 5}`, http.StatusUnprocessableEntity},
		{http.MethodPost, "/api/v1/import/preview", "", `nonsense`, http.StatusUnprocessableEntity},
		// Oversized import
		{
			http.MethodPost, "/api/v1/import", api.RoleAdmin,
			`{"notes":"` + strings.Repeat("x", 5000) + `"}`, http.StatusRequestEntityTooLarge,
		},
	}
	for _, oneCase := range cases {
		status, body := tc.do(oneCase.method, oneCase.path, oneCase.role, oneCase.body)
		assert.Equal(oneCase.status, status, "%s %s", oneCase.method, oneCase.path)
		var errBody api.ErrorResponse
		assert.Nil(json.Unmarshal(body, &errBody))
		assert.NotEmpty(errBody.Error)
		assert.NotEmpty(errBody.RequestID)
	}

	// Update bodies which are not JSON objects
	status, body := tc.do(
		http.MethodPost,
		"/api/v1/collections/employees",
		api.RoleAdmin,
		`{"fullName":"Jo","status":"in_use"}`,
	)
	assert.Equal(http.StatusCreated, status)
	var employee models.Employee
	assert.Nil(json.Unmarshal(body, &employee))
	for _, malformed := range []string{`[1,2]`, `"text"`, `{"notes":`} {
		status, _ = tc.do(
			http.MethodPut, "/api/v1/collections/employees/"+employee.ID, api.RoleAdmin, malformed,
		)
		assert.Equal(http.StatusBadRequest, status, malformed)
	}

	// Duplicate snapshot name
	status, _ = tc.do(http.MethodPost, "/api/v1/backups", api.RoleAdmin, `{"name":"nightly"}`)
	assert.Equal(http.StatusCreated, status)
	status, _ = tc.do(http.MethodPost, "/api/v1/backups", api.RoleAdmin, `{"name":"nightly"}`)
	assert.Equal(http.StatusConflict, status)
}

func TestAPISnapshots(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	tc, _ := newTestClient(t)

	status, _ := tc.do(
		http.MethodPost,
		"/api/v1/collections/employees",
		api.RoleAdmin,
		`{"fullName":"Jane Doe","status":"in_use"}`,
	)
	assert.Equal(http.StatusCreated, status)

	status, body := tc.do(http.MethodPost, "/api/v1/backups", api.RoleAdmin, `{"name":"first"}`)
	assert.Equal(http.StatusCreated, status)
	var meta models.SnapshotMeta
	assert.Nil(json.Unmarshal(body, &meta))
	assert.Equal(1, meta.RecordCount)

	status, body = tc.do(http.MethodGet, "/api/v1/backups", "", "")
	assert.Equal(http.StatusOK, status)
	var all []models.SnapshotMeta
	assert.Nil(json.Unmarshal(body, &all))
	assert.Len(all, 1)

	status, body = tc.do(http.MethodGet, "/api/v1/backups/first", "", "")
	assert.Equal(http.StatusOK, status)
	assert.Contains(string(body), "Jane Doe")

	status, body = tc.do(http.MethodGet, "/api/v1/backups/first/export", "", "")
	assert.Equal(http.StatusOK, status)
	assert.True(bytes.HasPrefix(body, []byte{0x1f, 0x8b}))

	// Exported snapshots import back
	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/preview", bytes.NewReader(body))
	resp := httptest.NewRecorder()
	tc.router.ServeHTTP(resp, req)
	assert.Equal(http.StatusOK, resp.Code)

	status, _ = tc.do(
		http.MethodPost, "/api/v1/import", api.RoleAdmin, `{"employees": [], "devices": []}`,
	)
	assert.Equal(http.StatusOK, status)
	status, body = tc.do(http.MethodGet, "/api/v1/collections/employees", "", "")
	assert.Equal(http.StatusOK, status)
	assert.JSONEq(`[]`, string(body))

	status, _ = tc.do(http.MethodPost, "/api/v1/backups/first/restore", api.RoleAdmin, "")
	assert.Equal(http.StatusOK, status)
	status, body = tc.do(http.MethodGet, "/api/v1/collections/employees", "", "")
	assert.Equal(http.StatusOK, status)
	assert.Contains(string(body), "Jane Doe")

	status, _ = tc.do(http.MethodDelete, "/api/v1/backups/first", api.RoleAdmin, "")
	assert.Equal(http.StatusOK, status)
	status, _ = tc.do(http.MethodDelete, "/api/v1/backups/first", api.RoleAdmin, "")
	assert.Equal(http.StatusNotFound, status)
}

func TestAPIHealthAndMetrics(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	tc, _ := newTestClient(t)

	status, _ := tc.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(http.StatusOK, status)

	status, _ = tc.do(
		http.MethodPost,
		"/api/v1/collections/networkDevices",
		api.RoleAdmin,
		`{"name":"core-sw","type":"switch","inventoryNumber":"NET-1","status":"in_use"}`,
	)
	assert.Equal(http.StatusCreated, status)

	// The change counter is fed asynchronously
	assert.Eventually(func() bool {
		_, body := tc.do(http.MethodGet, "/metrics", "", "")
		return strings.Contains(
			string(body), `stockpile_changes_total{action="create",collection="networkDevices"} 1`,
		)
	}, 2*time.Second, 20*time.Millisecond)

	_, body := tc.do(http.MethodGet, "/metrics", "", "")
	assert.Contains(string(body), "stockpile_http_requests_total")
}

// eventCollector gathers websocket frames
type eventCollector struct {
	gws.BuiltinEventHandler
	events chan models.ChangeEvent
	closed chan struct{}
}

func (e *eventCollector) OnMessage(_ *gws.Conn, message *gws.Message) {
	defer message.Close()
	var event models.ChangeEvent
	if err := json.Unmarshal(message.Data.Bytes(), &event); err == nil {
		e.events <- event
	}
}

func (e *eventCollector) OnClose(_ *gws.Conn, _ error) {
	close(e.closed)
}

func TestAPIEventStream(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	tc, service := newTestClient(t)
	server := httptest.NewServer(tc.router)
	defer server.Close()

	collector := &eventCollector{events: make(chan models.ChangeEvent, 8), closed: make(chan struct{})}
	socket, _, err := gws.NewClient(collector, &gws.ClientOption{
		Addr: "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events",
	})
	assert.Nil(err)
	go socket.ReadLoop()

	assert.Eventually(func() bool {
		// metrics observer plus this one
		return service.Notifier.SubscriberCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	status, _ := tc.do(
		http.MethodPost,
		"/api/v1/collections/storageItems",
		api.RoleAdmin,
		`{"name":"Toner","category":"consumables","quantity":2,"status":"in_stock"}`,
	)
	assert.Equal(http.StatusCreated, status)

	select {
	case event := <-collector.events:
		assert.Equal(models.CollectionStorageItems, event.Collection)
		assert.Equal(models.ChangeActionCreate, event.Action)
	case <-time.After(2 * time.Second):
		assert.Fail("no event delivered")
	}

	// An observer hanging up releases its subscription
	leaving := &eventCollector{events: make(chan models.ChangeEvent, 8), closed: make(chan struct{})}
	second, _, err := gws.NewClient(leaving, &gws.ClientOption{
		Addr: "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events",
	})
	assert.Nil(err)
	go second.ReadLoop()
	assert.Eventually(func() bool {
		return service.Notifier.SubscriberCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
	second.WriteClose(1000, nil)
	assert.Eventually(func() bool {
		return service.Notifier.SubscriberCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Closing the hub disconnects observers
	service.Notifier.Close()
	select {
	case <-collector.closed:
	case <-time.After(2 * time.Second):
		assert.Fail("observer not disconnected")
	}
}
