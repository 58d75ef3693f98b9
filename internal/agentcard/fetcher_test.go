package agentcard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCard = `{
	"name": "summarizer",
	"url": "https://agent.example",
	"entrypoints": {"summarize": {"description": "Summarize text", "price": "0.01"}},
	"payments": [{"method": "x402", "payee": "0xpayee", "network": "base-sepolia"}]
}`

func TestCandidates(t *testing.T) {
	assert.Equal(t, []string{
		"https://agent.example/.well-known/agent-card.json",
		"https://agent.example/.well-known/agent.json",
		"https://agent.example/agentcard.json",
	}, Candidates("https://agent.example/"))

	assert.Equal(t, []string{
		"https://agent.example/.well-known/agent.json",
		"https://agent.example/.well-known/agent-card.json",
		"https://agent.example/agentcard.json",
	}, Candidates("https://agent.example/.well-known/agent.json"))

	assert.Equal(t, []string{
		"https://agent.example/cards/a.json",
		"https://agent.example/cards/.well-known/agent-card.json",
		"https://agent.example/cards/.well-known/agent.json",
		"https://agent.example/cards/agentcard.json",
	}, Candidates("https://agent.example/cards/a.json"))
}

func TestFetchAgentCard_FallsThroughToLegacyPath(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path == "/.well-known/agent.json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(validCard))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	card, err := New(Config{}).FetchAgentCard(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "summarizer", card.Name)
	assert.Equal(t, "0xpayee", card.Payee())
	ep, ok := card.Entrypoint("summarize")
	require.True(t, ok)
	assert.Equal(t, "0.01", ep.Price)
	assert.Equal(t, []string{"/.well-known/agent-card.json", "/.well-known/agent.json"}, hits)
}

func TestFetchAgentCard_NotFoundListsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/agent-card.json":
			w.WriteHeader(http.StatusInternalServerError)
		case "/.well-known/agent.json":
			_, _ = w.Write([]byte(`{"name": "no entrypoints"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	_, err := New(Config{}).FetchAgentCard(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentCardNotFound)

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Len(t, nf.Attempts, 3)
	assert.Equal(t, "HTTP 500", nf.Attempts[0].Reason)
	assert.Contains(t, nf.Attempts[1].Reason, "entrypoint")
	assert.Equal(t, "HTTP 404", nf.Attempts[2].Reason)
	assert.Contains(t, err.Error(), srv.URL+"/agentcard.json")
}

func TestFetchAgentCard_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := New(Config{}).FetchAgentCard(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrAgentCardNotFound)
}

func TestFetchAgentCard_EmptyURL(t *testing.T) {
	_, err := New(Config{}).FetchAgentCard(context.Background(), " ")
	assert.ErrorIs(t, err, ErrAgentCardNotFound)
}
