package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/types"
)

type mockClientStore struct {
	listFn   func(ctx context.Context, f types.ClientListFilter) ([]types.Client, int, error)
	addFn    func(ctx context.Context, name, email string) (*types.Client, error)
	updateFn func(ctx context.Context, id string, patch types.ClientPatch) (*types.Client, error)
}

func (m *mockClientStore) List(ctx context.Context, f types.ClientListFilter) ([]types.Client, int, error) {
	return m.listFn(ctx, f)
}

func (m *mockClientStore) AddClient(ctx context.Context, name, email string) (*types.Client, error) {
	return m.addFn(ctx, name, email)
}

func (m *mockClientStore) UpdateByID(ctx context.Context, id string, patch types.ClientPatch) (*types.Client, error) {
	return m.updateFn(ctx, id, patch)
}

func newClientsRouter(store *mockClientStore) chi.Router {
	r := chi.NewRouter()
	NewClientsHandler(store, fixedClock{t: testNow}, discardLogger(), testValidator()).RegisterRoutes(r)
	return r
}

func TestClients_List(t *testing.T) {
	var got types.ClientListFilter
	store := &mockClientStore{listFn: func(_ context.Context, f types.ClientListFilter) ([]types.Client, int, error) {
		got = f
		return []types.Client{{ID: "c1", Email: "ada@example.com"}}, 7, nil
	}}

	w := httptest.NewRecorder()
	newClientsRouter(store).ServeHTTP(w,
		httptest.NewRequest(http.MethodGet, "/clients?search=ada&status=Subscribed&limit=10&offset=20", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.ClientListFilter{Search: "ada", Status: "subscribed", Limit: 10, Offset: 20}, got)
	body := decodeBody(t, w)
	assert.Equal(t, float64(7), body["total"])
	assert.Len(t, body["clients"], 1)
}

func TestClients_ListRejectsBadParams(t *testing.T) {
	store := &mockClientStore{listFn: func(context.Context, types.ClientListFilter) ([]types.Client, int, error) {
		t.Error("store must not be called")
		return nil, 0, nil
	}}

	for _, q := range []string{"status=bounced", "limit=0", "limit=201", "limit=ten", "offset=-1"} {
		t.Run(q, func(t *testing.T) {
			w := httptest.NewRecorder()
			newClientsRouter(store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clients?"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(types.ErrCodeValidationInvalidField), errorCode(t, w))
		})
	}
}

func TestClients_AddNormalizesEmail(t *testing.T) {
	store := &mockClientStore{addFn: func(_ context.Context, name, email string) (*types.Client, error) {
		assert.Equal(t, "Ada", name)
		assert.Equal(t, "ada@example.com", email)
		return &types.Client{ID: "c1", Name: name, Email: email}, nil
	}}

	w := httptest.NewRecorder()
	newClientsRouter(store).ServeHTTP(w,
		jsonRequest(http.MethodPost, "/clients", `{"name":"Ada","email":"  Ada@Example.COM "}`))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	client := decodeBody(t, w)["client"].(map[string]any)
	assert.Equal(t, "c1", client["id"])
}

func TestClients_AddDuplicate(t *testing.T) {
	store := &mockClientStore{addFn: func(context.Context, string, string) (*types.Client, error) {
		return nil, types.NewAppError(types.ErrCodeConflictEmail, "a client with this email already exists", nil)
	}}

	w := httptest.NewRecorder()
	newClientsRouter(store).ServeHTTP(w, jsonRequest(http.MethodPost, "/clients", `{"email":"ada@example.com"}`))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrCodeConflictEmail), errorCode(t, w))
}

func TestClients_AddInvalidEmail(t *testing.T) {
	w := httptest.NewRecorder()
	newClientsRouter(&mockClientStore{}).ServeHTTP(w, jsonRequest(http.MethodPost, "/clients", `{"email":"not-an-address"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidEmail), errorCode(t, w))
}

func TestClients_UpdateToggle(t *testing.T) {
	tests := []struct {
		name string
		body string
		want types.ClientPatch
	}{
		{
			name: "resubscribe clears suppression",
			body: `{"subscribed":true}`,
			want: types.ResubscribePatch(),
		},
		{
			name: "unsubscribe suppresses manually",
			body: `{"subscribed":false}`,
			want: types.ManualUnsubscribePatch(testNow),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got types.ClientPatch
			store := &mockClientStore{updateFn: func(_ context.Context, id string, patch types.ClientPatch) (*types.Client, error) {
				assert.Equal(t, "c1", id)
				got = patch
				return &types.Client{ID: id}, nil
			}}

			w := httptest.NewRecorder()
			newClientsRouter(store).ServeHTTP(w, jsonRequest(http.MethodPatch, "/clients/c1", tt.body))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClients_UpdateNameOnly(t *testing.T) {
	var got types.ClientPatch
	store := &mockClientStore{updateFn: func(_ context.Context, id string, patch types.ClientPatch) (*types.Client, error) {
		got = patch
		return &types.Client{ID: id}, nil
	}}

	w := httptest.NewRecorder()
	newClientsRouter(store).ServeHTTP(w, jsonRequest(http.MethodPatch, "/clients/c1", `{"name":"  Grace "}`))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, got.Name)
	assert.Equal(t, "Grace", *got.Name)
	assert.Nil(t, got.Unsubscribed)
	assert.Nil(t, got.Suppressed)
}

func TestClients_UpdateEmptyPatch(t *testing.T) {
	w := httptest.NewRecorder()
	newClientsRouter(&mockClientStore{}).ServeHTTP(w, jsonRequest(http.MethodPatch, "/clients/c1", `{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrCodeValidationMissingField), errorCode(t, w))
}

func TestClients_UpdateUnknown(t *testing.T) {
	store := &mockClientStore{updateFn: func(context.Context, string, types.ClientPatch) (*types.Client, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
	}}

	w := httptest.NewRecorder()
	newClientsRouter(store).ServeHTTP(w, jsonRequest(http.MethodPatch, "/clients/nope", `{"subscribed":true}`))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
