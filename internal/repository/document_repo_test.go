package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/contract-qa/internal/database"
	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err, "Failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db), "Failed to run migrations")

	originalDB := database.DB
	database.DB = db
	t.Cleanup(func() {
		database.DB = originalDB
		sqlDB.Close()
	})
	return db
}

func newDoc(id, filename string, uploaded time.Time) *models.Document {
	return &models.Document{
		ID:         id,
		FileName:   filename,
		FileType:   "pdf",
		FilePath:   "uploads/" + id + ".pdf",
		FileSize:   1024,
		Status:     models.DocStatusUploaded,
		UploadedAt: uploaded,
	}
}

func newChunk(docID string, n int, content string) *models.DocumentChunk {
	return &models.DocumentChunk{
		ID:             fmt.Sprintf("%s-%d", docID, n),
		DocumentID:     docID,
		FileName:       docID + ".pdf",
		ChunkNumber:    n,
		Content:        content,
		TokenLength:    len(content),
		CharLength:     len(content),
		SectionIndexes: []int{n - 1},
		Roles:          []string{"sectionHeading"},
		PageNumbers:    []int{n},
		Embedding:      []float32{0.5, 0.25},
	}
}

func TestDocumentRepository_CRUD(t *testing.T) {
	setupTestDB(t)
	repo := NewDocumentRepository()

	doc := newDoc("doc-1", "lease.pdf", time.Now())
	require.NoError(t, repo.Create(doc))
	assert.Error(t, repo.Create(&models.Document{}), "empty ID should be rejected")

	saved, err := repo.GetByID("doc-1")
	require.NoError(t, err)
	assert.Equal(t, "lease.pdf", saved.FileName)
	assert.False(t, saved.UpdatedAt.IsZero())

	saved.PageCount = 12
	saved.Analyzer = "local"
	require.NoError(t, repo.Update(saved))
	updated, _ := repo.GetByID("doc-1")
	assert.Equal(t, 12, updated.PageCount)
	assert.Equal(t, "local", updated.Analyzer)

	_, err = repo.GetByID("missing")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)

	require.NoError(t, repo.Delete("doc-1"))
	_, err = repo.GetByID("doc-1")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.ErrorIs(t, repo.Delete("doc-1"), models.ErrDocumentNotFound)
}

func TestDocumentRepository_GetByFilename(t *testing.T) {
	setupTestDB(t)
	repo := NewDocumentRepository()

	require.NoError(t, repo.Create(newDoc("old", "nda.pdf", time.Now().Add(-time.Hour))))
	require.NoError(t, repo.Create(newDoc("new", "nda.pdf", time.Now())))

	doc, err := repo.GetByFilename("nda.pdf")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.ID)

	_, err = repo.GetByFilename("other.pdf")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestDocumentRepository_List(t *testing.T) {
	setupTestDB(t)
	repo := NewDocumentRepository()

	now := time.Now()
	docs := []*models.Document{
		newDoc("d1", "lease.pdf", now.Add(-2*time.Hour)),
		newDoc("d2", "nda.pdf", now.Add(-time.Hour)),
		newDoc("d3", "lease-amendment.pdf", now),
	}
	docs[1].Status = models.DocStatusCompleted
	for _, d := range docs {
		require.NoError(t, repo.Create(d))
	}

	result, total, err := repo.List(0, 10, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, "d3", result[0].ID, "newest first")

	result, total, err = repo.List(1, 1, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, result, 1)
	assert.Equal(t, "d2", result[0].ID)

	result, total, err = repo.List(0, 10, ListFilter{Status: models.DocStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "d2", result[0].ID)

	_, total, err = repo.List(0, 10, ListFilter{FileName: "lease"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestDocumentRepository_StatusAndProgress(t *testing.T) {
	setupTestDB(t)
	repo := NewDocumentRepository()
	require.NoError(t, repo.Create(newDoc("doc", "a.pdf", time.Now())))

	require.NoError(t, repo.UpdateProgress("doc", 150, models.StageChunking))
	doc, _ := repo.GetByID("doc")
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, models.StageChunking, doc.CurrentStage)

	require.NoError(t, repo.UpdateProgress("doc", -5, ""))
	doc, _ = repo.GetByID("doc")
	assert.Equal(t, 0, doc.Progress)
	assert.Equal(t, models.StageChunking, doc.CurrentStage)

	require.NoError(t, repo.UpdateStatus("doc", models.DocStatusFailed, "processing failed at chunk 2 of a.pdf: boom"))
	doc, _ = repo.GetByID("doc")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "chunk 2")
	assert.NotNil(t, doc.ProcessedAt)

	require.NoError(t, repo.UpdateStatus("doc", models.DocStatusCompleted, ""))
	doc, _ = repo.GetByID("doc")
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	assert.Empty(t, doc.Error)
	assert.Equal(t, 100, doc.Progress)
	assert.Equal(t, models.StageCompleted, doc.CurrentStage)
}

func TestDocumentRepository_ReplaceChunks(t *testing.T) {
	setupTestDB(t)
	repo := NewDocumentRepository()
	require.NoError(t, repo.Create(newDoc("doc", "doc.pdf", time.Now())))
	require.NoError(t, repo.Create(newDoc("other", "other.pdf", time.Now())))

	first := []*models.DocumentChunk{newChunk("doc", 1, "alpha"), newChunk("doc", 2, "beta")}
	require.NoError(t, repo.ReplaceChunks("doc", first))
	require.NoError(t, repo.ReplaceChunks("other", []*models.DocumentChunk{newChunk("other", 1, "gamma")}))

	t.Run("RoundTrip", func(t *testing.T) {
		chunks, err := repo.GetChunks("doc", 0, 0)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, 1, chunks[0].ChunkNumber)
		assert.Equal(t, []int{0}, []int(chunks[0].SectionIndexes))
		assert.Equal(t, []string{"sectionHeading"}, []string(chunks[0].Roles))
		assert.Equal(t, []float32{0.5, 0.25}, []float32(chunks[0].Embedding))

		doc, _ := repo.GetByID("doc")
		assert.Equal(t, 2, doc.ChunkCount)
	})

	t.Run("Replace", func(t *testing.T) {
		second := []*models.DocumentChunk{newChunk("doc", 1, "delta")}
		second[0].ID = "doc-1-v2"
		require.NoError(t, repo.ReplaceChunks("doc", second))

		count, err := repo.CountChunks("doc")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		doc, _ := repo.GetByID("doc")
		assert.Equal(t, 1, doc.ChunkCount)
	})

	t.Run("AllOrNothing", func(t *testing.T) {
		broken := []*models.DocumentChunk{newChunk("doc", 1, "x"), newChunk("doc", 1, "y")}
		broken[1].ID = "doc-dup"
		assert.Error(t, repo.ReplaceChunks("doc", broken))

		chunks, err := repo.GetChunks("doc", 0, 0)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "delta", chunks[0].Content)

		foreign := []*models.DocumentChunk{newChunk("other", 5, "z")}
		assert.Error(t, repo.ReplaceChunks("doc", foreign))
		count, _ := repo.CountChunks("doc")
		assert.Equal(t, 1, count)
	})

	t.Run("UnknownDocument", func(t *testing.T) {
		err := repo.ReplaceChunks("ghost", []*models.DocumentChunk{newChunk("ghost", 1, "x")})
		assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	})

	t.Run("ListAllAndPaging", func(t *testing.T) {
		all, err := repo.ListAllChunks()
		require.NoError(t, err)
		assert.Len(t, all, 2)

		require.NoError(t, repo.ReplaceChunks("doc", []*models.DocumentChunk{
			newChunk("doc", 1, "a"), newChunk("doc", 2, "b"), newChunk("doc", 3, "c"),
		}))
		page, err := repo.GetChunks("doc", 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, 2, page[0].ChunkNumber)

		rest, err := repo.GetChunks("doc", 1, 0)
		require.NoError(t, err)
		assert.Len(t, rest, 2)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		require.NoError(t, repo.Delete("doc"))
		count, _ := repo.CountChunks("doc")
		assert.Zero(t, count)
		count, _ = repo.CountChunks("other")
		assert.Equal(t, 1, count)
	})
}
