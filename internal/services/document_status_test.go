package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/contract-qa/internal/models"
	"github.com/fyerfyer/contract-qa/internal/repository"
)

func newStatusManager(t *testing.T) *DocumentStatusManager {
	t.Helper()
	repo := repository.NewDocumentRepositoryWithDB(setupTestDB(t))
	return NewDocumentStatusManager(repo, quietLogger())
}

func TestDocumentStatusManager_Lifecycle(t *testing.T) {
	m := newStatusManager(t)
	ctx := context.Background()

	doc := &models.Document{ID: "doc-1", FileName: "Lease.PDF", FilePath: "a/b.pdf", FileSize: 10}
	require.NoError(t, m.MarkAsUploaded(ctx, doc))

	status, err := m.GetStatus(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusUploaded, status)

	stored, err := m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "pdf", stored.FileType)

	// 未处理的文档不能更新进度
	assert.ErrorIs(t, m.UpdateStage(ctx, "doc-1", 10, models.StageChunking), models.ErrInvalidDocumentStatus)

	require.NoError(t, m.MarkAsProcessing(ctx, "doc-1"))
	stored, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusProcessing, stored.Status)
	assert.Equal(t, models.StageAnalyzing, stored.CurrentStage)

	require.NoError(t, m.UpdateStage(ctx, "doc-1", 50, models.StageChunking))
	stored, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Progress)
	assert.Equal(t, models.StageChunking, stored.CurrentStage)

	// 处理中的文档不能再次进入处理
	assert.ErrorIs(t, m.MarkAsProcessing(ctx, "doc-1"), models.ErrInvalidDocumentStatus)

	require.NoError(t, m.MarkAsCompleted(ctx, "doc-1", ProcessSummary{
		ChunkCount:   3,
		SectionCount: 7,
		PageCount:    2,
		WarningCount: 1,
		Analyzer:     "local",
		Warnings:     []string{"section 4: unresolved reference (/paragraphs/99)"},
	}))
	stored, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, 7, stored.SectionCount)
	assert.Equal(t, "local", stored.Analyzer)
	assert.NotNil(t, stored.ProcessedAt)
	assert.Contains(t, string(stored.Metadata), "/paragraphs/99")

	// 完成的文档可以重新处理
	require.NoError(t, m.MarkAsProcessing(ctx, "doc-1"))
	require.NoError(t, m.MarkAsFailed(ctx, "doc-1", "processing failed at chunk 1 of Lease.PDF: boom"))
	stored, err = m.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusFailed, stored.Status)
	assert.Equal(t, "processing failed at chunk 1 of Lease.PDF: boom", stored.Error)

	assert.ErrorIs(t, m.MarkAsCompleted(ctx, "doc-1", ProcessSummary{}), models.ErrInvalidDocumentStatus)

	require.NoError(t, m.DeleteDocument(ctx, "doc-1"))
	_, err = m.GetDocument(ctx, "doc-1")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestDocumentStatusManager_UnknownDocument(t *testing.T) {
	m := newStatusManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.MarkAsProcessing(ctx, "nope"), models.ErrDocumentNotFound)
	assert.ErrorIs(t, m.MarkAsFailed(ctx, "nope", "x"), models.ErrDocumentNotFound)
	_, err := m.GetStatus(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestValidateStateTransition(t *testing.T) {
	tests := []struct {
		from, to models.DocumentStatus
		valid    bool
	}{
		{models.DocStatusUploaded, models.DocStatusProcessing, true},
		{models.DocStatusUploaded, models.DocStatusFailed, true},
		{models.DocStatusUploaded, models.DocStatusCompleted, false},
		{models.DocStatusProcessing, models.DocStatusCompleted, true},
		{models.DocStatusProcessing, models.DocStatusFailed, true},
		{models.DocStatusProcessing, models.DocStatusProcessing, false},
		{models.DocStatusCompleted, models.DocStatusProcessing, true},
		{models.DocStatusCompleted, models.DocStatusFailed, false},
		{models.DocStatusFailed, models.DocStatusProcessing, true},
		{models.DocStatusFailed, models.DocStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateStateTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidDocumentStatus)
			}
		})
	}
}
