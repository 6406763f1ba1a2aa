package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avass/docq/internal/models"
	"github.com/avass/docq/internal/types"
	"github.com/avass/docq/pkg/llm"
	"github.com/avass/docq/pkg/memory"
	"github.com/avass/docq/pkg/processor"
	"github.com/avass/docq/pkg/rag"
)

type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

type memStore struct {
	chunks  []models.Chunk
	results []models.SearchResult
}

func (m *memStore) Store(_ context.Context, chunks []models.Chunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) Search(context.Context, []float32, int) ([]models.SearchResult, error) {
	return m.results, nil
}

func (m *memStore) ListDocuments(context.Context) ([]models.DocumentInfo, error) {
	byDoc := map[string]*models.DocumentInfo{}
	var order []string
	for _, c := range m.chunks {
		info, ok := byDoc[c.DocumentID]
		if !ok {
			info = &models.DocumentInfo{ID: c.DocumentID, Name: c.Name}
			byDoc[c.DocumentID] = info
			order = append(order, c.DocumentID)
		}
		info.ChunkCount++
	}
	docs := make([]models.DocumentInfo, 0, len(order))
	for _, id := range order {
		docs = append(docs, *byDoc[id])
	}
	return docs, nil
}

func (m *memStore) DeleteDocument(_ context.Context, docID string) error {
	kept := m.chunks[:0]
	for _, c := range m.chunks {
		if c.DocumentID != docID {
			kept = append(kept, c)
		}
	}
	m.chunks = kept
	return nil
}

func (m *memStore) Clear(context.Context) error {
	m.chunks = nil
	return nil
}

func (m *memStore) Count(context.Context) (int, error) { return len(m.chunks), nil }
func (m *memStore) Close()                             {}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (e stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, _ := e.Embed(ctx, []string{text})
	return vectors[0], nil
}

type stubChat struct {
	answer string
}

func (c stubChat) Generate(context.Context, []models.ChatMessage) (string, error) {
	return c.answer, nil
}

func (c stubChat) GenerateStream(ctx context.Context, messages []models.ChatMessage, onChunk func(string)) (string, error) {
	onChunk(c.answer)
	return c.answer, nil
}

func newTestServer(t *testing.T, store *memStore, streaming bool) *httptest.Server {
	t.Helper()

	mem, err := memory.NewManager(memory.Config{Counter: wordCounter{}})
	require.NoError(t, err)

	proc := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      200,
		ChunkOverlap:   20,
		MinChunkLength: 5,
	})

	system := rag.New(rag.Config{}, store, stubEmbedder{}, &proc, mem, nil).
		WithChatFactory(func(context.Context, llm.ChatConfig) (types.ChatModel, error) {
			return stubChat{answer: "stub answer"}, nil
		})

	srv := New(Config{Streaming: streaming}, system, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatOverWebSocket(t *testing.T) {
	store := &memStore{results: []models.SearchResult{{
		Chunk:    models.Chunk{ID: "d_0", DocumentID: "d", Name: "doc.txt", Content: "chunk text"},
		Distance: 0.1,
	}}}
	ts := newTestServer(t, store, false)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "chat", Content: "question"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "status", msg.Type)

	msg = readMessage(t, conn)
	assert.Equal(t, "response", msg.Type)
	assert.Equal(t, "stub answer", msg.Content)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"doc.txt"}, data["sources"])
	assert.Equal(t, false, data["gated"])
}

func TestChatStreaming(t *testing.T) {
	store := &memStore{results: []models.SearchResult{{
		Chunk:    models.Chunk{ID: "d_0", DocumentID: "d", Name: "doc.txt", Content: "chunk text"},
		Distance: 0.1,
	}}}
	ts := newTestServer(t, store, true)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "chat", Content: "question"}))

	var sawStream, sawResponse bool
	for !sawResponse {
		msg := readMessage(t, conn)
		switch msg.Type {
		case "stream":
			sawStream = true
			assert.Equal(t, "stub answer", msg.Content)
		case "response":
			sawResponse = true
			assert.Equal(t, "stub answer", msg.Content)
		}
	}
	assert.True(t, sawStream)
}

func TestChatGatedAnswer(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "chat", Content: "question"}))

	readMessage(t, conn) // status
	msg := readMessage(t, conn)
	assert.Equal(t, "response", msg.Type)
	assert.Equal(t, rag.NoInfoAnswer, msg.Content)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["gated"])
}

func TestChatUnknownType(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

func TestUploadAndManageDocuments(t *testing.T) {
	store := &memStore{}
	ts := newTestServer(t, store, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	fw.Write([]byte("A first sentence about the topic. A second sentence with more detail."))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/documents", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Chunks int `json:"chunks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Greater(t, created.Chunks, 0)

	resp, err = http.Get(ts.URL + "/api/documents")
	require.NoError(t, err)
	defer resp.Body.Close()

	var listing struct {
		Documents []models.DocumentInfo `json:"documents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	require.Len(t, listing.Documents, 1)
	assert.Equal(t, "notes.txt", listing.Documents[0].Name)

	req, _ := http.NewRequest(http.MethodDelete,
		ts.URL+"/api/documents/"+listing.Documents[0].ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, store.chunks)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "binary.exe")
	require.NoError(t, err)
	fw.Write([]byte{0x4d, 0x5a})
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/api/documents", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestTranscriptDownload(t *testing.T) {
	store := &memStore{results: []models.SearchResult{{
		Chunk:    models.Chunk{ID: "d_0", DocumentID: "d", Name: "doc.txt", Content: "chunk text"},
		Distance: 0.1,
	}}}
	ts := newTestServer(t, store, false)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(Message{Type: "chat", Content: "question"}))
	readMessage(t, conn) // status
	readMessage(t, conn) // response

	resp, err := http.Get(ts.URL + "/api/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Disposition"), "chat_history.md")

	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "User: question")
	assert.Contains(t, body.String(), "Assistant: stub answer")
}

func TestClearHistory(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/history", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServesChatPage(t *testing.T) {
	ts := newTestServer(t, &memStore{}, false)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "<title>docq</title>")
}
