package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/contract-qa/api/model"
	"github.com/fyerfyer/contract-qa/pkg/taskqueue"
)

func TestDocumentUpload(t *testing.T) {
	env := setupTestEnv(t)

	w := env.uploadFile(t, "lease.json", leaseLayout(t), false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	resp := decode[model.DocumentInfo](t, w)
	assert.Equal(t, 0, resp.Code)
	doc := resp.Data
	assert.NotEmpty(t, doc.FileID)
	assert.Equal(t, "lease.json", doc.FileName)
	assert.Equal(t, "completed", doc.Status)
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.Equal(t, 2, doc.SectionCount)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, 1, doc.WarningCount)
	require.Len(t, doc.Warnings, 1)
	assert.Contains(t, doc.Warnings[0], "/paragraphs/9")
	assert.Equal(t, "term-embedding", doc.EmbeddingModel)

	t.Run("duplicate is rejected", func(t *testing.T) {
		w := env.uploadFile(t, "lease.json", leaseLayout(t), false)
		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decode[any](t, w)
		assert.Equal(t, http.StatusConflict, resp.Code)
		assert.Contains(t, resp.Message, "force=true")
		assert.NotEmpty(t, resp.TraceID)
	})

	t.Run("force reprocesses", func(t *testing.T) {
		w := env.uploadFile(t, "lease.json", leaseLayout(t), true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		again := decode[model.DocumentInfo](t, w).Data
		assert.Equal(t, doc.FileID, again.FileID)
		assert.Equal(t, 1, again.RetryCount)
		assert.Equal(t, "completed", again.Status)
	})
}

func TestDocumentUploadValidation(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name     string
		filename string
		content  []byte
		wantCode int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"unsupported type", "contract.docx", []byte("PK"), http.StatusBadRequest},
		{"empty file", "empty.txt", []byte{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.uploadFile(t, tt.filename, tt.content, false)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decode[any](t, w).Code)
		})
	}
}

func TestDocumentUploadProcessingFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.Embedder.failAt = 2

	w := env.uploadFile(t, "lease.json", leaseLayout(t), false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[any](t, w)
	assert.True(t, strings.HasPrefix(resp.Message, "processing failed at chunk 2 of lease.json"), resp.Message)

	list := decode[model.DocumentListResponse](t, env.do(t, http.MethodGet, "/api/documents?status=failed", nil))
	require.Len(t, list.Data.Documents, 1)
	failed := list.Data.Documents[0]
	assert.Equal(t, 0, failed.ChunkCount)
	assert.Contains(t, failed.Error, "embedding backend down")

	chunks := decode[model.ChunkListResponse](t, env.do(t, http.MethodGet, "/api/documents/"+failed.FileID+"/chunks", nil))
	assert.Zero(t, chunks.Data.Total)

	t.Run("reprocess recovers", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/documents/"+failed.FileID+"/reprocess", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		doc := decode[model.DocumentInfo](t, w).Data
		assert.Equal(t, "completed", doc.Status)
		assert.Empty(t, doc.Error)
		assert.Equal(t, 2, doc.ChunkCount)
	})
}

func TestGetDocument(t *testing.T) {
	env := setupTestEnv(t)
	doc := env.uploadLease(t, "lease.json")

	w := env.do(t, http.MethodGet, "/api/documents/"+doc.FileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.DocumentInfo](t, w).Data
	assert.Equal(t, doc.FileID, got.FileID)
	assert.Equal(t, "json", got.FileType)
	assert.Equal(t, "completed", got.Stage)

	w = env.do(t, http.MethodGet, "/api/documents/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "document not found", decode[any](t, w).Message)
}

func TestListDocuments(t *testing.T) {
	env := setupTestEnv(t)
	env.uploadLease(t, "lease.json")
	env.uploadLease(t, "sublease.json")
	env.uploadLease(t, "nda.json")

	w := env.do(t, http.MethodGet, "/api/documents?page=1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[model.DocumentListResponse](t, w).Data
	assert.Equal(t, int64(3), list.Total)
	assert.Equal(t, 2, list.PageSize)
	assert.Len(t, list.Documents, 2)

	w = env.do(t, http.MethodGet, "/api/documents?filename=lease", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decode[model.DocumentListResponse](t, w).Data.Total)

	w = env.do(t, http.MethodGet, "/api/documents?status=completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), decode[model.DocumentListResponse](t, w).Data.Total)

	w = env.do(t, http.MethodGet, "/api/documents?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[any](t, w).Message, "invalid query parameters")
}

func TestDocumentChunks(t *testing.T) {
	env := setupTestEnv(t)
	long := strings.Repeat("clause ", 100)
	w := env.uploadFile(t, "long.json", leaseLayout(t, long), false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	doc := decode[model.DocumentInfo](t, w).Data
	require.Equal(t, 3, doc.ChunkCount)

	w = env.do(t, http.MethodGet, "/api/documents/"+doc.FileID+"/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[model.ChunkListResponse](t, w).Data
	assert.Equal(t, 3, list.Total)
	assert.Equal(t, "long.json", list.FileName)
	require.Len(t, list.Chunks, 3)

	first := list.Chunks[0]
	assert.Equal(t, 1, first.ChunkNumber)
	assert.Equal(t, "[TITLE] Lease Agreement", first.Heading)
	assert.Equal(t, []string{"title"}, first.Roles)
	assert.Equal(t, []int{1}, first.PageNumbers)

	last := list.Chunks[2]
	assert.True(t, strings.HasSuffix(last.Preview, "..."))
	assert.LessOrEqual(t, len([]rune(last.Preview)), model.ChunkPreviewLength+3)
	assert.Greater(t, last.CharLength, model.ChunkPreviewLength)

	w = env.do(t, http.MethodGet, "/api/documents/"+doc.FileID+"/chunks?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[model.ChunkListResponse](t, w).Data
	require.Len(t, page.Chunks, 1)
	assert.Equal(t, 3, page.Chunks[0].ChunkNumber)

	w = env.do(t, http.MethodGet, "/api/documents/missing/chunks", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteDocument(t *testing.T) {
	env := setupTestEnv(t)
	doc := env.uploadLease(t, "lease.json")

	w := env.do(t, http.MethodDelete, "/api/documents/"+doc.FileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[model.DocumentDeleteResponse](t, w).Data
	assert.True(t, resp.Success)
	assert.Equal(t, doc.FileID, resp.FileID)

	w = env.do(t, http.MethodGet, "/api/documents/"+doc.FileID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/documents/"+doc.FileID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsyncUploadAndTasks(t *testing.T) {
	env := setupTestEnv(t, withQueue)

	w := env.uploadFile(t, "lease.json", leaseLayout(t), false)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	doc := decode[model.DocumentInfo](t, w).Data
	assert.Equal(t, "uploaded", doc.Status)
	require.NotEmpty(t, doc.TaskID)

	w = env.do(t, http.MethodGet, "/api/documents/"+doc.FileID+"/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode[model.DocumentTasksResponse](t, w).Data
	require.Len(t, tasks.Tasks, 1)
	assert.Equal(t, doc.TaskID, tasks.Tasks[0].ID)
	assert.Equal(t, taskqueue.TaskDocumentProcess, tasks.Tasks[0].Type)
	assert.Equal(t, taskqueue.StatusPending, tasks.Tasks[0].Status)

	w = env.do(t, http.MethodGet, "/api/tasks/"+doc.TaskID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, doc.FileID, decode[taskqueue.TaskInfo](t, w).Data.DocumentID)

	w = env.do(t, http.MethodGet, "/api/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/index/rebuild", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, decode[model.IndexRebuildResponse](t, w).Data.TaskID)
}
