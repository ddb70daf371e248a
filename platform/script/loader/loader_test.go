package loader

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robbyt/go-jsglobals/platform/script/loader/httpauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	t.Parallel()

	t.Run("keeps content verbatim", func(t *testing.T) {
		t.Parallel()
		src := "\nvar a = 1;\n"
		l, err := NewFromString(src)
		require.NoError(t, err)
		assert.Equal(t, "string", l.GetSourceURL().Scheme)

		body, err := ReadAll(t.Context(), l)
		require.NoError(t, err)
		assert.Equal(t, src, string(body))
	})

	t.Run("blank content", func(t *testing.T) {
		t.Parallel()
		_, err := NewFromString("  \n\t")
		require.ErrorIs(t, err, ErrScriptNotAvailable)
	})
}

func TestFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "lib.js")
	require.NoError(t, os.WriteFile(path, []byte("module.exports = 1;"), 0o600))

	t.Run("absolute path", func(t *testing.T) {
		t.Parallel()
		l, err := NewFromDisk(path)
		require.NoError(t, err)
		assert.Equal(t, "file", l.GetSourceURL().Scheme)

		body, err := ReadAll(t.Context(), l)
		require.NoError(t, err)
		assert.Equal(t, "module.exports = 1;", string(body))
	})

	t.Run("file scheme", func(t *testing.T) {
		t.Parallel()
		l, err := NewFromDisk("file://" + path)
		require.NoError(t, err)
		assert.Contains(t, l.String(), "lib.js")
	})

	t.Run("relative path", func(t *testing.T) {
		t.Parallel()
		_, err := NewFromDisk("lib.js")
		require.ErrorIs(t, err, ErrScriptNotAvailable)
	})

	t.Run("http scheme", func(t *testing.T) {
		t.Parallel()
		_, err := NewFromDisk("https://example.com/lib.js")
		require.ErrorIs(t, err, ErrSchemeUnsupported)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		l, err := NewFromDisk(filepath.Join(dir, "missing.js"))
		require.NoError(t, err)
		_, err = ReadAll(t.Context(), l)
		require.ErrorIs(t, err, ErrScriptNotAvailable)
	})
}

func TestFromHTTP(t *testing.T) {
	t.Parallel()

	t.Run("authenticated fetch", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte("export const a = 1;"))
		}))
		t.Cleanup(srv.Close)

		opts := DefaultHTTPOptions()
		opts.Authenticator = httpauth.Bearer("tok")
		l, err := NewFromHTTPWithOptions(srv.URL+"/lib.mjs", opts)
		require.NoError(t, err)

		body, err := ReadAll(t.Context(), l)
		require.NoError(t, err)
		assert.Equal(t, "export const a = 1;", string(body))
		assert.Contains(t, l.String(), "Bearer")
		assert.NotContains(t, l.String(), "tok")
	})

	t.Run("retries server errors", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte("ok"))
		}))
		t.Cleanup(srv.Close)

		opts := DefaultHTTPOptions()
		opts.RetryWaitMin = time.Millisecond
		opts.RetryWaitMax = 5 * time.Millisecond
		l, err := NewFromHTTPWithOptions(srv.URL, opts)
		require.NoError(t, err)

		body, err := ReadAll(t.Context(), l)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(srv.Close)

		l, err := NewFromHTTP(srv.URL + "/missing.js")
		require.NoError(t, err)
		_, err = ReadAll(t.Context(), l)
		require.ErrorIs(t, err, ErrScriptNotAvailable)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()
		_, err := NewFromHTTP("ftp://example.com/lib.js")
		require.ErrorIs(t, err, ErrSchemeUnsupported)
	})
}
