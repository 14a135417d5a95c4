package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Endpoint: "http://localhost:6333", Collection: "medical"}, false},
		{"missing endpoint", Options{Collection: "medical"}, true},
		{"missing collection", Options{Endpoint: "http://localhost:6333"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts, zap.NewNop())
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestSearch(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/collections/medical/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[
			{"id":"5c56c793-69f3-4fbf-87e6-c4bf54c28c26","score":0.7,"payload":{"page_content":"Paracetamol 500-1000 mg.","metadata":{"source":"drugs.pdf","page":7}}},
			{"id":42,"score":0.96,"payload":{"page_content":"Ibuprofen 200-400 mg.","metadata":{"source":"drugs.pdf","page":4}}}
		],"status":"ok","time":0.001}`))
	}))
	defer srv.Close()

	idx, err := New(Options{Endpoint: srv.URL + "/", Collection: "medical", APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)

	docs, err := idx.Search(context.Background(), []float32{0.1, 0.2}, 4, 0.3)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "42", docs[0].ID)
	assert.Equal(t, "Ibuprofen 200-400 mg.", docs[0].Content)
	assert.Equal(t, "4", docs[0].Page())
	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", docs[1].ID)
	assert.Greater(t, docs[0].Score, docs[1].Score)

	assert.EqualValues(t, 4, gotBody["limit"])
	assert.InDelta(t, 0.51, gotBody["score_threshold"], 1e-9)
}

func TestSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection medical doesn't exist!"}}`))
	}))
	defer srv.Close()

	idx, err := New(Options{Endpoint: srv.URL, Collection: "medical"}, zap.NewNop())
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), []float32{0.1}, 4, 0.3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/collections/medical" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ok, _ := New(Options{Endpoint: srv.URL, Collection: "medical"}, zap.NewNop())
	assert.NoError(t, ok.Health(context.Background()))
	assert.Equal(t, "qdrant", ok.Backend())

	missing, _ := New(Options{Endpoint: srv.URL, Collection: "other"}, zap.NewNop())
	assert.Error(t, missing.Health(context.Background()))
	assert.NoError(t, missing.Close())
}
