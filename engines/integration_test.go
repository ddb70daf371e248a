package engines

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbyt/go-jsglobals"
	"github.com/robbyt/go-jsglobals/engines/goja/normalize"
	"github.com/robbyt/go-jsglobals/options"
	"github.com/robbyt/go-jsglobals/platform/scripterr"
)

// moduleFiles describe the same deployment in every supported module format.
var moduleFiles = map[string]string{
	"deploy.json":  `{"env": "prod", "replicas": 3}`,
	"deploy.yaml":  "env: prod\nreplicas: 3\n",
	"deploy.toml":  "env = \"prod\"\nreplicas = 3\n",
	"deploy.star":  "env = \"prod\"\nreplicas = 1 + 2\n",
	"deploy.risor": "deploy := {\"env\": \"prod\", \"replicas\": 3}\ndeploy",
	"deploy.js":    "module.exports = { env: 'prod', replicas: 3 };",
	"deploy.mjs":   "export const env = 'prod';\nexport const replicas = 3;",
}

func writeModules(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range moduleFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func testHandler() slog.Handler {
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})
}

// TestModuleFormatsIntegration checks that every module format exposes the
// same data to a snippet through require.
func TestModuleFormatsIntegration(t *testing.T) {
	t.Parallel()

	dir := writeModules(t)

	for name := range moduleFiles {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s, err := jsglobals.New(
				"const deploy = require('./"+name+"');\nconst summary = deploy.env + ':' + deploy.replicas;",
				options.WithLogHandler(testHandler()),
				options.WithModuleBase(dir),
				options.WithNativeModules(false),
			)
			require.NoError(t, err)

			got, err := s.Run(context.Background(), nil, options.WithExposeLoader())
			require.NoError(t, err)
			assert.Equal(t, "prod:3", got["summary"])
		})
	}
}

// TestStaticImportsIntegration imports several formats in one snippet, once
// through rewritten dynamic loads and once as a native module.
func TestStaticImportsIntegration(t *testing.T) {
	t.Parallel()

	dir := writeModules(t)
	code := `import data from "./deploy.json";
import { replicas } from "./deploy.star";
import * as esm from "./deploy.mjs";
const total = data.replicas + replicas + esm.replicas;`

	tests := []struct {
		name string
		opts []options.Option
	}{
		{name: "rewritten imports", opts: []options.Option{options.WithTransformESMImports(true), options.WithNativeModules(false)}},
		{name: "native module", opts: []options.Option{options.WithNativeModules(true)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opts := append([]options.Option{
				options.WithLogHandler(testHandler()),
				options.WithModuleBase(dir),
			}, tc.opts...)
			s, err := jsglobals.New(code, opts...)
			require.NoError(t, err)

			got, err := s.Run(context.Background(), nil, options.WithAllowDynamicLoad())
			require.NoError(t, err)
			assert.EqualValues(t, 9, got["total"])

			_, err = s.Run(context.Background(), nil)
			require.ErrorIs(t, err, scripterr.ErrExecution)
		})
	}
}

// TestStarlarkFunctionIntegration calls a Starlark function from a snippet
// and from Go after the run.
func TestStarlarkFunctionIntegration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math.star"),
		[]byte("def scale(n):\n    return n * 10\n"), 0o644))

	s, err := jsglobals.New(
		"const { scale } = require('./math.star');\nconst scaled = scale(4);",
		options.WithLogHandler(testHandler()),
		options.WithModuleBase(dir),
		options.WithNativeModules(false),
	)
	require.NoError(t, err)

	got, err := s.Run(context.Background(), nil, options.WithExposeLoader())
	require.NoError(t, err)
	assert.EqualValues(t, 40, got["scaled"])

	scale, ok := got["scale"].(normalize.Function)
	require.True(t, ok)
	out, err := scale(5)
	require.NoError(t, err)
	assert.EqualValues(t, 50, out)
}

// TestRemoteModulesIntegration loads modules over HTTP, limited by the allow-list.
func TestRemoteModulesIntegration(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lib/deploy.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(moduleFiles["deploy.json"]))
		case "/private/secret.json":
			_, _ = w.Write([]byte(`{"token": "x"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	newScript := func(code string) *jsglobals.Script {
		s, err := jsglobals.New(code,
			options.WithLogHandler(testHandler()),
			options.WithModuleBase(srv.URL+"/lib"),
			options.WithAllowedModules(srv.URL+"/lib/**"),
			options.WithNativeModules(false),
		)
		require.NoError(t, err)
		return s
	}

	got, err := newScript("const env = require('./deploy.json').env;").
		Run(context.Background(), nil, options.WithExposeLoader())
	require.NoError(t, err)
	assert.Equal(t, "prod", got["env"])

	_, err = newScript("const token = require('../private/secret.json').token;").
		Run(context.Background(), nil, options.WithExposeLoader())
	require.ErrorIs(t, err, scripterr.ErrExecution)
	assert.Contains(t, err.Error(), "not allowed")
}

// TestHostModuleIntegration exposes Go values as a named module.
func TestHostModuleIntegration(t *testing.T) {
	t.Parallel()

	s, err := jsglobals.New(
		"const { region, zones } = require('topology');\nconst first = zones[0];",
		options.WithLogHandler(testHandler()),
		options.WithHostModule("topology", map[string]any{
			"region": "eu-west",
			"zones":  []any{"a", "b"},
		}),
		options.WithNativeModules(false),
	)
	require.NoError(t, err)

	got, err := s.Run(context.Background(), nil, options.WithExposeLoader())
	require.NoError(t, err)
	assert.Equal(t, "eu-west", got["region"])
	assert.Equal(t, "a", got["first"])
}
