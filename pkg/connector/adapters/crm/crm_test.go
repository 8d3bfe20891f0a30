package crm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ajitpratap0/interlink/pkg/connector/registry"
	"github.com/ajitpratap0/interlink/pkg/errors"
	"github.com/ajitpratap0/interlink/pkg/models"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCRM serves a token endpoint and delegates API calls to api after
// checking the bearer token.
func fakeCRM(t *testing.T, api http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokens int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokens, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"abc","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokens
}

func newCRM(t *testing.T, srv *httptest.Server, typ models.AdapterType, settings map[string]string) *Connector {
	t.Helper()
	all := map[string]string{
		"base_url":       srv.URL + "/api/data/v9.2/",
		"token_url":      srv.URL + "/token",
		"client_id":      "id",
		"client_secret":  "secret",
		"retry_attempts": "1",
	}
	for k, v := range settings {
		all[k] = v
	}
	c, err := New(context.Background(), &models.AdapterInstance{
		InstanceID:  uuid.New(),
		Name:        "crm",
		AdapterType: typ,
		Settings:    all,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestReadFollowsNextLink(t *testing.T) {
	srv, tokens := fakeCRM(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "odata.maxpagesize=2", r.Header.Get("Prefer"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, "statecode eq 0", r.URL.Query().Get("$filter"))
			next := "http://" + r.Host + "/api/data/v9.2/accounts?$skiptoken=2"
			_, _ = io.WriteString(w, `{"value":[{"@odata.etag":"W/1","accountnumber":"A1","name":"Acme"},{"accountnumber":"A2","name":"Beta"}],"@odata.nextLink":"`+next+`"}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"accountnumber":"A3","name":"Gamma"}]}`)
	})

	c := newCRM(t, srv, models.AdapterCRM, map[string]string{"filter": "statecode eq 0", "page_size": "2"})
	batches, err := c.Read(context.Background(), "accounts")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"accountnumber", "name"}, batches[0].Columns)
	assert.Len(t, batches[0].Rows, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokens))
}

func TestFetchXMLPaging(t *testing.T) {
	var pages []string
	var mu sync.Mutex
	srv, _ := fakeCRM(t, func(w http.ResponseWriter, r *http.Request) {
		fetch := r.URL.Query().Get("fetchXml")
		mu.Lock()
		pages = append(pages, fetch)
		mu.Unlock()
		if strings.Contains(fetch, `page="1"`) {
			_, _ = io.WriteString(w, `{"value":[{"name":"A"}],"@Microsoft.Dynamics.CRM.morerecords":true,`+
				`"@Microsoft.Dynamics.CRM.fetchxmlpagingcookie":"<cookie pagenumber=\"2\" pagingcookie=\"%253ccookie%2520page%253d%25221%2522%253e%253c%252fcookie%253e\" istracking=\"False\" />"}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"name":"B"}],"@Microsoft.Dynamics.CRM.morerecords":false}`)
	})

	c := newCRM(t, srv, models.AdapterCRMFetch, map[string]string{
		"fetch_xml": `<fetch><entity name="account"><attribute name="name"/></entity></fetch>`,
		"page_size": "1",
	})
	batches, err := c.Read(context.Background(), "accounts")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Rows, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, pages, 2)
	assert.Contains(t, pages[1], `page="2"`)
	assert.Contains(t, pages[1], `paging-cookie="&lt;cookie page=&#34;1&#34;&gt;&lt;/cookie&gt;"`)
}

func TestWriteUpsertsByAlternateKey(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv, _ := fakeCRM(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["name"] == "reject" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.NotContains(t, body, "accountnumber")
		w.WriteHeader(http.StatusNoContent)
	})

	c := newCRM(t, srv, models.AdapterCRM, map[string]string{"key_columns": "accountnumber"})
	cols := []string{"accountnumber", "name"}
	res, err := c.Write(context.Background(), "accounts", cols, []models.Record{
		models.RecordFromValues(cols, []string{"A1", "Acme"}),
		models.RecordFromValues(cols, []string{"A2", "reject"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.True(t, errors.IsType(res.Failed[1], errors.ErrorTypeValidation))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"PATCH /api/data/v9.2/accounts(accountnumber='A1')",
		"PATCH /api/data/v9.2/accounts(accountnumber='A2')",
	}, calls)
}

func TestGetSchema(t *testing.T) {
	srv, _ := fakeCRM(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/v9.2/EntityDefinitions", r.URL.Path)
		if !strings.Contains(r.URL.Query().Get("$filter"), "'accounts'") {
			_, _ = io.WriteString(w, `{"value":[]}`)
			return
		}
		_, _ = io.WriteString(w, `{"value":[{"LogicalName":"account","Attributes":[
			{"LogicalName":"name","AttributeType":"String","AttributeTypeName":{"Value":"StringType"}},
			{"LogicalName":"revenue","AttributeType":"Money","AttributeTypeName":{"Value":"MoneyType"}}]}]}`)
	})

	c := newCRM(t, srv, models.AdapterCRM, nil)
	schema, err := c.GetSchema(context.Background(), "accounts")
	require.NoError(t, err)
	assert.Equal(t, "Money", schema["revenue"].DataType)
	assert.Equal(t, "StringType", schema["name"].NativeType)

	_, err = c.GetSchema(context.Background(), "missing")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSettingsRequireOAuth2(t *testing.T) {
	_, err := New(context.Background(), &models.AdapterInstance{
		InstanceID:  uuid.New(),
		AdapterType: models.AdapterCRM,
		Settings:    map[string]string{"base_url": "https://crm"},
	}, zaptest.NewLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(context.Background(), &models.AdapterInstance{
		InstanceID:  uuid.New(),
		AdapterType: models.AdapterCRMFetch,
		Settings:    map[string]string{"base_url": "https://crm", "token_url": "https://t", "client_id": "a", "client_secret": "b"},
	}, zaptest.NewLogger(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPageFetchXML(t *testing.T) {
	out, err := pageFetchXML(`<fetch page="1" count="10"><entity name="account"/></fetch>`, 3, 50, "")
	require.NoError(t, err)
	assert.Equal(t, `<fetch page="3" count="50"><entity name="account"></entity></fetch>`, out)

	_, err = pageFetchXML(`<query/>`, 1, 0, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegisteredBothVariants(t *testing.T) {
	for _, typ := range []models.AdapterType{models.AdapterCRM, models.AdapterCRMFetch} {
		_, ok := registry.GetRegistry().Info(typ)
		assert.True(t, ok, typ)
	}
}
