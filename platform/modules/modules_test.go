package modules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbyt/go-jsglobals/platform/script/loader"
	"github.com/robbyt/go-jsglobals/platform/script/loader/httpauth"
)

var addWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x07, 0x01, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7f, 0x03, 0x02, 0x01, 0x00, 0x07, 0x07, 0x01,
	0x03, 0x61, 0x64, 0x64, 0x00, 0x00, 0x0a, 0x09, 0x01, 0x07, 0x00, 0x20,
	0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func newResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg)
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r := newResolver(t, Config{
		Base: &url.URL{Scheme: "file", Path: "/work"},
		Host: map[string]any{"config": map[string]any{}},
	})
	assert.Equal(t, "file:///work/", r.Base().String())

	tests := []struct {
		name     string
		spec     string
		referrer string
		want     string
		wantErr  error
	}{
		{name: "relative to base", spec: "./lib/a.js", want: "file:///work/lib/a.js"},
		{name: "parent of base", spec: "../shared/b.json", want: "file:///shared/b.json"},
		{name: "relative to referrer", spec: "./c.js", referrer: "file:///mods/x/main.js", want: "file:///mods/x/c.js"},
		{name: "relative to http referrer", spec: "./d.js", referrer: "https://cdn.test/pkg/main.js", want: "https://cdn.test/pkg/d.js"},
		{name: "inline referrer uses base", spec: "./e.js", referrer: "string://inline/abc", want: "file:///work/e.js"},
		{name: "absolute path", spec: "/etc/data.yaml", want: "file:///etc/data.yaml"},
		{name: "url", spec: "https://cdn.test/f.js", want: "https://cdn.test/f.js"},
		{name: "host module", spec: "config", want: "host:config"},
		{name: "bare specifier", spec: "lodash", wantErr: ErrNotFound},
		{name: "empty", spec: "", wantErr: ErrBadSpecifier},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			u, err := r.Resolve(tc.spec, tc.referrer)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, u.String())
		})
	}
}

func TestPolicy(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy("/srv/modules/**", "https://cdn.test/**/*.js")
	require.NoError(t, err)
	assert.Len(t, p.Patterns(), 2)

	assert.True(t, p.Allows(&url.URL{Scheme: "file", Path: "/srv/modules/a/b.json"}))
	assert.True(t, p.Allows(&url.URL{Scheme: "https", Host: "cdn.test", Path: "/pkg/lib.js"}))
	assert.False(t, p.Allows(&url.URL{Scheme: "file", Path: "/etc/passwd"}))
	assert.False(t, p.Allows(&url.URL{Scheme: "https", Host: "evil.test", Path: "/lib.js"}))

	var empty *Policy
	assert.True(t, empty.Allows(&url.URL{Scheme: "file", Path: "/anything"}))

	_, err = NewPolicy("[unclosed")
	require.ErrorIs(t, err, ErrBadPattern)

	r := newResolver(t, Config{Base: DirectoryURL("/work"), Policy: p})
	_, err = r.Resolve("./not-allowed.js", "")
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestFetchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte(`{"a":1}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noext"), addWasm, 0o600))

	r := newResolver(t, Config{Base: DirectoryURL(dir)})
	ctx := context.Background()

	src, err := r.Fetch(ctx, "./data.json", "")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, src.Format)
	assert.JSONEq(t, `{"a":1}`, string(src.Body))
	assert.Equal(t, "./data.json", src.Specifier)

	sniffed, err := r.Fetch(ctx, "./noext", "")
	require.NoError(t, err)
	assert.Equal(t, FormatWasm, sniffed.Format)

	_, err = r.Fetch(ctx, "./missing.js", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFetchHost(t *testing.T) {
	t.Parallel()

	value := map[string]any{"answer": 42}
	r := newResolver(t, Config{Base: DirectoryURL("/work"), Host: map[string]any{"answers": value}})

	src, err := r.Fetch(context.Background(), "answers", "")
	require.NoError(t, err)
	assert.Equal(t, FormatHost, src.Format)
	assert.Equal(t, value, src.Host)
}

func TestFetchHTTP(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lib.js":
			_, _ = w.Write([]byte("module.exports = 1;"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	opts := loader.DefaultHTTPOptions()
	opts.RetryMax = 0
	r := newResolver(t, Config{Base: DirectoryURL("/work"), HTTP: opts})

	src, err := r.Fetch(context.Background(), server.URL+"/lib.js", "")
	require.NoError(t, err)
	assert.Equal(t, FormatJS, src.Format)
	assert.Equal(t, "module.exports = 1;", string(src.Body))

	_, err = r.Fetch(context.Background(), "./missing.js", server.URL+"/lib.js")
	require.ErrorIs(t, err, loader.ErrScriptNotAvailable)
}

func TestFetchCredentialsByOrigin(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("module.exports = " + strconv.Quote(r.Header.Get("Authorization")) + ";"))
	}))
	t.Cleanup(server.Close)

	creds := httpauth.NewOrigins()
	require.NoError(t, creds.Add(server.URL+"/private/**", httpauth.Bearer("secret")))

	opts := loader.DefaultHTTPOptions()
	opts.RetryMax = 0
	opts.Authenticator = httpauth.Bearer("shared")
	policy, err := NewPolicy(server.URL + "/**")
	require.NoError(t, err)
	r := newResolver(t, Config{Base: DirectoryURL("/work"), HTTP: opts, Credentials: creds, Policy: policy})

	src, err := r.Fetch(context.Background(), server.URL+"/private/lib.js", "")
	require.NoError(t, err)
	assert.Equal(t, `module.exports = "Bearer secret";`, string(src.Body))

	src, err = r.Fetch(context.Background(), server.URL+"/public/lib.js", "")
	require.NoError(t, err)
	assert.Equal(t, `module.exports = "Bearer shared";`, string(src.Body))
	assert.Equal(t, "Bearer", opts.Authenticator.Name())

	_, err = r.Fetch(context.Background(), "https://elsewhere.test/private/lib.js", "")
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestDecodeData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format Format
		body   string
	}{
		{"json", FormatJSON, `{"name": "app", "tags": ["a", "b"]}`},
		{"yaml", FormatYAML, "name: app\ntags:\n  - a\n  - b\n"},
		{"toml", FormatTOML, "name = \"app\"\ntags = [\"a\", \"b\"]\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := DecodeData(tc.format, []byte(tc.body))
			require.NoError(t, err)

			m, ok := out.(map[string]any)
			require.True(t, ok)
			assert.Equal(t, "app", m["name"])
			assert.Equal(t, []any{"a", "b"}, m["tags"])
		})
	}

	_, err := DecodeData(FormatJSON, []byte("{"))
	require.ErrorIs(t, err, ErrFormat)

	_, err = DecodeData(FormatJS, []byte("1"))
	require.ErrorIs(t, err, ErrFormat)
}

func TestFormats(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatJS, FormatFromPath("/a/b.MJS"))
	assert.Equal(t, FormatYAML, FormatFromPath("x.yml"))
	assert.Equal(t, FormatStarlark, FormatFromPath("x.star"))
	assert.Equal(t, FormatRisor, FormatFromPath("x.risor"))
	assert.Equal(t, FormatUnknown, FormatFromPath("x"))

	assert.True(t, FormatTOML.IsData())
	assert.False(t, FormatWasm.IsData())

	assert.Equal(t, FormatWasm, Sniff(addWasm))
	assert.Equal(t, FormatJSON, Sniff([]byte(`{"a": [1, 2]}`)))
	assert.Equal(t, FormatJS, Sniff([]byte("const a = 1;\n")))
}
