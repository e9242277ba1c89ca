package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	*httptest.Server
	registered map[string]any
	tokenCalls int
	listAuth   string
}

func newFakeRegistrar(t *testing.T) *fakeRegistrar {
	t.Helper()
	f := &fakeRegistrar{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/registrations/environments/lookup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "production" {
			w.Write([]byte(`{"id":3}`))
			return
		}
		w.Write([]byte(`{"id":null}`))
	})
	mux.HandleFunc("POST /api/v2/registrations/register", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"result":false,"message":"unable to authenticate user"}`))
			return
		}
		json.NewDecoder(r.Body).Decode(&f.registered)
		w.Write([]byte(`{"result":true,"message":"Success!"}`))
	})
	mux.HandleFunc("GET /api/v2/registrations/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("certname") {
		case "abc":
			w.Write([]byte(`{"name":"web01","last_report":null,"has_certificate":false}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"result":false,"message":"db down"}`))
		default:
			w.Write([]byte(`{"name":null,"last_report":null,"has_certificate":null}`))
		}
	})
	mux.HandleFunc("GET /api/v2/registrations/hostgroups", func(w http.ResponseWriter, r *http.Request) {
		f.listAuth = r.Header.Get("Authorization")
		w.Write([]byte(`["db","web"]`))
	})
	mux.HandleFunc("POST /api/v2/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokenCalls++
		json.NewEncoder(w).Encode(map[string]any{"token": "exchanged", "expires_at": time.Now().Add(time.Hour)})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRegister_resolvesNamesAndSendsEmptyCertname(t *testing.T) {
	srv := newFakeRegistrar(t)

	out, err := execute(t, "register", "web01",
		"--registrar", srv.URL, "--login", "ops", "--password", "pw",
		"--environment", "production", "--hostgroup", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "Success!")

	assert.Equal(t, "web01", srv.registered["name"])
	assert.Equal(t, "", srv.registered["certname"])
	assert.EqualValues(t, 3, srv.registered["environment_id"])
	assert.EqualValues(t, 9, srv.registered["hostgroup_id"])
}

func TestRegister_unknownEnvironment(t *testing.T) {
	srv := newFakeRegistrar(t)

	_, err := execute(t, "register", "web01",
		"--registrar", srv.URL, "--login", "ops", "--password", "pw",
		"--environment", "staging", "--hostgroup", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown environment "staging"`)
	assert.Nil(t, srv.registered)
}

func TestRegister_requiresCredentials(t *testing.T) {
	srv := newFakeRegistrar(t)

	_, err := execute(t, "register", "web01", "--registrar", srv.URL, "--environment", "1", "--hostgroup", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestStatus_textTableInInputOrder(t *testing.T) {
	srv := newFakeRegistrar(t)

	out, err := execute(t, "status", "abc", "zzz", "boom",
		"--registrar", srv.URL, "--login", "ops", "--password", "pw")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "abc"))
	assert.Contains(t, lines[1], "web01")
	assert.Contains(t, lines[1], "absent")
	assert.Contains(t, lines[2], "unknown")
	assert.Contains(t, lines[3], "db down")
}

func TestStatus_json(t *testing.T) {
	srv := newFakeRegistrar(t)

	out, err := execute(t, "status", "abc",
		"--registrar", srv.URL, "--login", "ops", "--password", "pw", "--format", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "abc", rows[0]["certname"])
	assert.Equal(t, "web01", rows[0]["name"])
	assert.Equal(t, false, rows[0]["has_certificate"])
}

func TestHostgroups(t *testing.T) {
	srv := newFakeRegistrar(t)

	out, err := execute(t, "hostgroups", "--registrar", srv.URL, "--token", "t")
	require.NoError(t, err)
	assert.Equal(t, "db\nweb\n", out)
}

func TestTokenExchange(t *testing.T) {
	srv := newFakeRegistrar(t)

	_, err := execute(t, "hostgroups", "--registrar", srv.URL, "--login", "ops", "--password", "pw", "--token-exchange")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.tokenCalls)
	assert.Equal(t, "Bearer exchanged", srv.listAuth)
}

func TestTokenExchange_offByDefault(t *testing.T) {
	srv := newFakeRegistrar(t)

	_, err := execute(t, "hostgroups", "--registrar", srv.URL, "--login", "ops", "--password", "pw")
	require.NoError(t, err)
	assert.Zero(t, srv.tokenCalls)
	assert.True(t, strings.HasPrefix(srv.listAuth, "Basic "))
}

func TestConfigFile(t *testing.T) {
	srv := newFakeRegistrar(t)
	cfg := filepath.Join(t.TempDir(), "regctl.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("registrar_url: "+srv.URL+"\nlogin: ops\npassword: pw\n"), 0o600))

	out, err := execute(t, "hostgroups", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "web")
}

func TestUnknownFormat(t *testing.T) {
	_, err := execute(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestResolveID_numeric(t *testing.T) {
	id, err := resolveID(t.Context(), "42", "environment", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}
