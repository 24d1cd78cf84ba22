package catalog_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rota/internal/catalog"
	"rota/internal/domain"
)

func TestStaticDataset(t *testing.T) {
	c, err := catalog.Static()
	require.NoError(t, err)

	list := c.List()
	require.Len(t, list, 22)
	assert.Equal(t, "Avicultura", list[0].Name, "list follows sort_order")

	groups := c.Groups()
	assert.Equal(t, []string{"Agropecuária", "Indústrias", "Comércio e Serviços", "Obras Civis"}, groups)

	lat, ok := c.Get("laticinio")
	require.True(t, ok)
	assert.Equal(t, "Laticínio", lat.Name)
	assert.Equal(t, "Médio/Alto", lat.RiskLevel)
	assert.Len(t, lat.RequiredDocuments, 5)

	q, ok := lat.Question("water_source")
	require.True(t, ok)
	assert.Equal(t, "select", q.Type)
	assert.Contains(t, q.Options, "CAGEPA")

	// memorial is the one optional document on the laticinio checklist
	var required int
	for _, d := range lat.RequiredDocuments {
		if d.Required {
			required++
		}
	}
	assert.Equal(t, 4, required)
}

func TestByName(t *testing.T) {
	c, err := catalog.Static()
	require.NoError(t, err)

	a, ok := c.ByName("posto de combustível")
	require.True(t, ok)
	assert.Equal(t, "posto-combustivel", a.ID)

	_, ok = c.ByName("mineração")
	assert.False(t, ok)
}

func TestLoadPrefersRemote(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"mineracao","name":"Mineração","group":"Indústrias","category":"Extrativa","risk_level":"Alto","sort_order":0,"is_active":true,"required_documents":[],"questions":[]}]`))
	}))
	defer ts.Close()

	c, err := catalog.Load(context.Background(), &catalog.HTTPSource{URL: ts.URL, Client: ts.Client()})
	require.NoError(t, err)
	require.Len(t, c.List(), 1)
	_, ok := c.Get("mineracao")
	assert.True(t, ok)
}

func TestLoadFallsBackOnServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "registry down", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := catalog.Load(context.Background(), &catalog.HTTPSource{URL: ts.URL, Client: ts.Client()})
	require.NoError(t, err)
	assert.Len(t, c.List(), 22, "falls back to the embedded dataset")
}

func TestLoadFallsBackOnTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from here on

	c, err := catalog.Load(context.Background(), &catalog.HTTPSource{URL: ts.URL})
	require.NoError(t, err)
	assert.Len(t, c.List(), 22)
}

func TestLoadWithoutSourceUsesStatic(t *testing.T) {
	c, err := catalog.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, c.List(), 22)
}

func TestInactiveActivitiesHiddenFromList(t *testing.T) {
	c := catalog.New([]domain.Activity{
		{ID: "a", Name: "A", Group: "G", SortOrder: 1, Active: true},
		{ID: "b", Name: "B", Group: "G", SortOrder: 0, Active: false},
	})
	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	// still resolvable for old processes that reference it
	_, ok := c.Get("b")
	assert.True(t, ok)
}
