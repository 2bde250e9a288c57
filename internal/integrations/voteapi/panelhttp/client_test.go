package panelhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_GetOrderStatus_OK(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/status", r.URL.Path)
		gotKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"status":"Completed","votes_delivered":42}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second)
	res, err := c.GetOrderStatus(context.Background(), "EXT-1")
	require.NoError(t, err)
	require.Equal(t, "secret", gotKey)
	require.Equal(t, "EXT-1", gotBody["order_number"])
	require.Equal(t, "Completed", res.Status)
	require.NotNil(t, res.VotesDelivered)
	require.Equal(t, int64(42), *res.VotesDelivered)
}

func TestClient_GetOrderStatus_OptionalDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"In progress"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	res, err := c.GetOrderStatus(context.Background(), "EXT-2")
	require.NoError(t, err)
	require.Equal(t, "In progress", res.Status)
	require.Nil(t, res.VotesDelivered)
}

func TestClient_GetOrderStatus_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	_, err := c.GetOrderStatus(context.Background(), "EXT-3")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestClient_GetOrderStatus_MissingStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"votes_delivered":7}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	_, err := c.GetOrderStatus(context.Background(), "EXT-4")
	require.Error(t, err)
}

func TestClient_GetOrderStatus_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"Pending"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 20*time.Millisecond)
	_, err := c.GetOrderStatus(context.Background(), "EXT-5")
	require.Error(t, err)
}

func TestClient_SubmitOrder_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/order", r.URL.Path)
		_, _ = w.Write([]byte(`{"order_number":"EXT-900"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	res, err := c.SubmitOrder(context.Background(), "upvotes", "https://example.com/p/1", 100)
	require.NoError(t, err)
	require.Equal(t, "EXT-900", res.OrderNumber)
}

func TestClient_SubmitOrder_MissingNumberRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k", 5*time.Second)
	_, err := c.SubmitOrder(context.Background(), "upvotes", "https://example.com/p/1", 100)
	require.Error(t, err)
}
