package vectorstore

import (
	"testing"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/vectorstore/vectorstoretest"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"docqa_docs_research_ollama_1a2b3c4d", true},
		{"", false},
		{"UPPER", false},
		{"has-dash", false},
		{"../escape", false},
		{string(make([]byte, 65)), false},
	}
	for _, tt := range tests {
		err := ValidateCollectionName(tt.name)
		if tt.valid {
			assert.NoError(t, err, tt.name)
		} else {
			assert.ErrorIs(t, err, ErrInvalidCollectionName, tt.name)
		}
	}
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("docs", "report_pdf_0")
	assert.Equal(t, a, PointID("docs", "report_pdf_0"))
	assert.NotEqual(t, a, PointID("docs", "report_pdf_1"))
	assert.NotEqual(t, a, PointID("other", "report_pdf_0"))
}

func TestPayloadRoundTrip(t *testing.T) {
	doc := Document{
		ID:      "r_pdf_3",
		Content: "chunk text",
		Metadata: map[string]interface{}{
			"source": "r.pdf",
			"page":   2,
			"score":  0.5,
			"flag":   true,
			"nested": []string{"dropped"},
		},
	}
	payload := toPayload(doc)
	assert.NotContains(t, payload, "nested")

	got := fromPayload(payload)
	assert.Equal(t, "r_pdf_3", got.ID)
	assert.Equal(t, "chunk text", got.Content)
	assert.Equal(t, "r.pdf", got.Metadata["source"])
	assert.Equal(t, 2, got.Metadata["page"])
	assert.Equal(t, 0.5, got.Metadata["score"])
	assert.Equal(t, true, got.Metadata["flag"])

	assert.Equal(t, "x", fromPayload(map[string]*qdrant.Value{
		payloadContent: {Kind: &qdrant.Value_StringValue{StringValue: "x"}},
	}).Content)
}

func TestMetadataToStrings(t *testing.T) {
	got := metadataToStrings(map[string]interface{}{"page": 3, "ratio": 0.25, "ok": true, "s": "v"})
	assert.Equal(t, map[string]string{"page": "3", "ratio": "0.25", "ok": "true", "s": "v"}, got)
	assert.Nil(t, metadataToStrings(nil))
}

func TestNewStore(t *testing.T) {
	emb := vectorstoretest.NewHashEmbedder(8)

	store, err := NewStore(config.VectorStoreConfig{Provider: "chromem", Path: t.TempDir()}, emb, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, store)

	_, err = NewStore(config.VectorStoreConfig{Provider: "pinecone"}, emb, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewStore(config.VectorStoreConfig{Provider: "qdrant", QdrantPort: 0, QdrantHost: "localhost"}, emb, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
