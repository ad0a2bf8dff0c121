package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUpserter struct{ mock.Mock }

func (m *mockUpserter) Upsert(ctx context.Context, docs ...KnowledgeDocument) error {
	args := m.Called(ctx, docs)
	return args.Error(0)
}

const sampleCorpus = `documents:
  - id: settings-airplane
    app_name: Settings
    package: com.android.settings
    description: Enable airplane mode
    hints:
      - description: open network settings
        field: text
        op: contains
        value: Network
      - description: tap the airplane mode toggle
        field: text
        op: contains
        value: Airplane
  - id: clock-alarm
    app_name: Clock
    package: com.android.deskclock
    description: Set an alarm
`

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportCorpus(t *testing.T) {
	store := new(mockUpserter)
	embedder := new(mockEmbedder)

	embedder.On("Embed", mock.Anything, "Enable airplane mode").Return([]float32{1, 0}, nil)
	embedder.On("Embed", mock.Anything, "Set an alarm").Return([]float32{0, 1}, nil)
	store.On("Upsert", mock.Anything, mock.MatchedBy(func(docs []KnowledgeDocument) bool {
		return len(docs) == 1 && len(docs[0].Embedding) == 2
	})).Return(nil).Twice()

	n, err := ImportCorpus(context.Background(), writeCorpus(t, sampleCorpus), store, embedder)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	store.AssertExpectations(t)
}

func TestImportCorpusRejectsIncompleteDocuments(t *testing.T) {
	store := new(mockUpserter)
	embedder := new(mockEmbedder)

	path := writeCorpus(t, "documents:\n  - id: broken\n    description: no package\n")
	_, err := ImportCorpus(context.Background(), path, store, embedder)
	require.Error(t, err)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestImportCorpusEmptyFile(t *testing.T) {
	_, err := ImportCorpus(context.Background(), writeCorpus(t, "documents: []\n"), new(mockUpserter), new(mockEmbedder))
	require.Error(t, err)
}
