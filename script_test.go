package jsglobals

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbyt/go-jsglobals/engines/goja/evaluator"
	"github.com/robbyt/go-jsglobals/engines/goja/normalize"
	"github.com/robbyt/go-jsglobals/engines/goja/sandbox"
	"github.com/robbyt/go-jsglobals/options"
	"github.com/robbyt/go-jsglobals/platform/scripterr"
	"github.com/robbyt/go-jsglobals/platform/script/loader"
)

func newScript(t *testing.T, code string, opts ...options.Option) *Script {
	t.Helper()
	opts = append([]options.Option{
		options.WithLogHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})),
		options.WithNativeModules(false),
	}, opts...)
	s, err := New(code, opts...)
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		s := newScript(t, "var a = 1;")
		assert.Len(t, s.ID(), 12)
		assert.Empty(t, s.Origin())
		assert.Equal(t, "var a = 1;", s.Source())
		assert.Contains(t, s.String(), s.ID())
	})

	t.Run("blank source", func(t *testing.T) {
		t.Parallel()
		_, err := New("  \n")
		require.ErrorIs(t, err, loader.ErrScriptNotAvailable)
	})

	t.Run("bad option", func(t *testing.T) {
		t.Parallel()
		_, err := New("var a = 1;", options.WithModuleBase("relative/dir"))
		require.ErrorIs(t, err, options.ErrInvalidBase)
	})

	t.Run("nil loader", func(t *testing.T) {
		t.Parallel()
		_, err := FromLoader(nil)
		require.ErrorIs(t, err, options.ErrNoLoader)
	})
}

func TestRunSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		seed map[string]any
		want map[string]any
	}{
		{
			name: "single var",
			code: "var a = 1;",
			want: map[string]any{"a": int64(1)},
		},
		{
			name: "literals",
			code: "var n = 1.5; let s = 'x'; const b = true; var z = null;",
			want: map[string]any{"n": 1.5, "s": "x", "b": true, "z": nil},
		},
		{
			name: "seed values",
			code: "let greeting = 'hello ' + name;",
			seed: map[string]any{"name": "world"},
			want: map[string]any{"greeting": "hello world"},
		},
		{
			name: "nested records",
			code: "const cfg = { tags: ['a', 'b'], limits: { max: 3 } };",
			want: map[string]any{
				"cfg": map[string]any{"tags": []any{"a", "b"}, "limits": map[string]any{"max": int64(3)}},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := newScript(t, tc.code).RunSync(tc.seed)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunSyncFunction(t *testing.T) {
	t.Parallel()

	got, err := newScript(t, "function f() { return 'called'; }").RunSync(nil)
	require.NoError(t, err)

	f, ok := got["f"].(normalize.Function)
	require.True(t, ok)
	out, err := f()
	require.NoError(t, err)
	assert.Equal(t, "called", out)
}

func TestRunSyncRejectsAwait(t *testing.T) {
	t.Parallel()

	s := newScript(t, "let b = await Promise.resolve(1);")
	_, err := s.RunSync(nil, options.WithAsynchronous(true))
	require.ErrorIs(t, err, scripterr.ErrAnalysis)

	got, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": int64(1)}, got)
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code string
		seed map[string]any
		want map[string]any
	}{
		{
			name: "seed lookup",
			code: "let a = b;",
			seed: map[string]any{"b": 2},
			want: map[string]any{"a": int64(2)},
		},
		{
			name: "await",
			code: "let b = await Promise.resolve(1);",
			want: map[string]any{"b": int64(1)},
		},
		{
			name: "object destructuring",
			code: "const { a } = { a: 1 };",
			want: map[string]any{"a": int64(1)},
		},
		{
			name: "array destructuring",
			code: "const [a,b] = [1,2];",
			want: map[string]any{"a": int64(1), "b": int64(2)},
		},
		{
			name: "awaited async call",
			code: "const r = await (async function (v) { return v * 2; })(n);",
			seed: map[string]any{"n": 4},
			want: map[string]any{"r": int64(8)},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := newScript(t, tc.code).Run(context.Background(), tc.seed)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunIdempotent(t *testing.T) {
	t.Parallel()

	s := newScript(t, "const out = { items: list.map(function (x) { return x * 2; }) };")
	seed := map[string]any{"list": []any{1, 2, 3}}

	first, err := s.Run(context.Background(), seed)
	require.NoError(t, err)
	second, err := s.Run(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]any{"out": map[string]any{"items": []any{int64(2), int64(4), int64(6)}}}, first)
}

func TestRunCycle(t *testing.T) {
	t.Parallel()

	got, err := newScript(t, "const a = { name: 'a' };\nconst b = { name: 'b', peer: a };\na.peer = b;").
		Run(context.Background(), nil)
	require.NoError(t, err)

	a, ok := got["a"].(map[string]any)
	require.True(t, ok)
	peer, ok := a["peer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b", peer["name"])
	back, ok := peer["peer"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", back["name"])
}

func TestRunCyclicSeed(t *testing.T) {
	t.Parallel()

	seed := map[string]any{"name": "root"}
	seed["self"] = seed

	got, err := newScript(t, "const c = self;\nconst n = self.self.name;").Run(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, "root", got["n"])

	c, ok := got["c"].(map[string]any)
	require.True(t, ok)
	c["marker"] = true
	assert.Equal(t, true, seed["marker"])
}

func TestRunCollectorNameFree(t *testing.T) {
	t.Parallel()

	code := "var __jsglobals = 1;\nconst __proto__ = 2;"
	tests := []struct {
		name string
		opts []options.Option
		run  []options.RunOption
	}{
		{name: "direct"},
		{name: "object export", run: []options.RunOption{options.WithPreferObjectExportStrategy(true)}},
		{name: "native module", opts: []options.Option{options.WithNativeModules(true)}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := newScript(t, code, tc.opts...).Run(context.Background(), nil, tc.run...)
			require.NoError(t, err)
			assert.EqualValues(t, 1, got["__jsglobals"])
			assert.EqualValues(t, 2, got["__proto__"])
		})
	}
}

func TestRunClassInstance(t *testing.T) {
	t.Parallel()

	got, err := newScript(t, "class P { constructor() { this.meta = { a: 1 }; } }\nconst p = new P();").
		Run(context.Background(), nil)
	require.NoError(t, err)

	p, ok := got["p"].(*normalize.Instance)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": int64(1)}, p.Fields["meta"])
	assert.Equal(t, "P", p.Object.Get("constructor").ToObject(nil).Get("name").String())
}

func TestAmbientReuse(t *testing.T) {
	t.Parallel()

	proc := sandbox.NewProcess()
	s := newScript(t, "const c = typeof process === 'undefined' ? 'missing' : process;\n"+
		"const logs = typeof console === 'undefined' ? 'missing' : typeof console.log;",
		options.WithAmbient(sandbox.Ambient{"process": proc, "console": sandbox.NewConsole(slog.Default())}))

	reused, err := s.Run(context.Background(), nil, options.WithReuseAmbientEnvironment())
	require.NoError(t, err)
	assert.Same(t, proc, reused["c"])
	assert.Equal(t, "function", reused["logs"])

	isolated, err := s.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "missing", isolated["c"])
}

func TestAnalysisError(t *testing.T) {
	t.Parallel()

	s := newScript(t, "var a = 1;\nvar b = ;", options.WithOrigin("broken.js"))
	_, err := s.Run(context.Background(), nil)
	require.ErrorIs(t, err, scripterr.ErrAnalysis)
	require.NotErrorIs(t, err, scripterr.ErrExecution)

	se, ok := scripterr.As(err)
	require.True(t, ok)
	assert.NotEmpty(t, se.Message)
	assert.Equal(t, "broken.js", se.Origin)
	require.NotNil(t, se.Location)
	assert.Equal(t, 2, se.Location.Line)
	assert.Positive(t, se.Location.Column)

	_, err = s.Analyze()
	require.ErrorIs(t, err, scripterr.ErrAnalysis)
}

func TestExecutionError(t *testing.T) {
	t.Parallel()

	code := "var a = 1;\nthrow new TypeError('nope');"
	_, err := newScript(t, code).Run(context.Background(), nil)
	require.ErrorIs(t, err, scripterr.ErrExecution)

	se, ok := scripterr.As(err)
	require.True(t, ok)
	assert.Equal(t, "TypeError: nope", se.Message)
	assert.Equal(t, evaluator.Direct.String(), se.Strategy)
	assert.Equal(t, code, se.Source)
}

func TestImports(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte(`{"a": 1}`), 0o644))
	code := "import data from \"./data.json\";\nconst x = data.a;"

	s := newScript(t, code,
		options.WithModuleBase(dir),
		options.WithTransformESMImports(true),
	)

	strategy, err := s.Strategy()
	require.NoError(t, err)
	assert.Equal(t, evaluator.ObjectExport, strategy)

	names, err := s.Analyze()
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "x"}, names)

	t.Run("dynamic load denied", func(t *testing.T) {
		t.Parallel()
		_, err := s.Run(context.Background(), nil)
		require.ErrorIs(t, err, scripterr.ErrExecution)
		assert.Contains(t, err.Error(), "dynamic module loading is not allowed")
	})

	t.Run("dynamic load allowed", func(t *testing.T) {
		t.Parallel()
		got, err := s.Run(context.Background(), nil, options.WithAllowDynamicLoad())
		require.NoError(t, err)
		assert.EqualValues(t, 1, got["x"])
		assert.Contains(t, got, "data")
	})

	t.Run("untransformed imports", func(t *testing.T) {
		t.Parallel()
		raw := newScript(t, code, options.WithModuleBase(dir))
		_, err := raw.Run(context.Background(), nil, options.WithAllowDynamicLoad())
		require.ErrorIs(t, err, scripterr.ErrAnalysis)
	})
}

func TestExposeLoader(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "limits.yaml"), []byte("max: 5\n"), 0o644))

	s := newScript(t, "const limits = require('./limits.yaml');\nconst max = limits.max;",
		options.WithModuleBase(dir))

	got, err := s.Run(context.Background(), nil, options.WithExposeLoader())
	require.NoError(t, err)
	assert.EqualValues(t, 5, got["max"])

	_, err = s.Run(context.Background(), nil)
	require.ErrorIs(t, err, scripterr.ErrExecution)
}

func TestSeedPrecedence(t *testing.T) {
	t.Parallel()

	s := newScript(t, "var picked = [a, b, c];",
		options.WithStaticData(map[string]any{"a": "static", "b": "static", "c": "static"}))

	ctx, err := s.AddDataToContext(context.Background(), map[string]any{"b": "context", "c": "context"})
	require.NoError(t, err)

	got, err := s.Run(ctx, map[string]any{"c": "explicit"})
	require.NoError(t, err)
	assert.Equal(t, []any{"static", "context", "explicit"}, got["picked"])
}

func TestContextData(t *testing.T) {
	t.Parallel()

	s := newScript(t, "var who = user;")
	ctx, err := s.AddDataToContext(context.Background(), map[string]any{"user": "ada"})
	require.NoError(t, err)

	got, err := s.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", got["who"])
}

func TestUnsupportedSeed(t *testing.T) {
	t.Parallel()

	_, err := newScript(t, "var a = 1;").RunSync("not a map")
	require.ErrorIs(t, err, ErrUnsupportedSeed)
}

func TestSharedContext(t *testing.T) {
	t.Parallel()

	s := newScript(t, "var next = n + 1;")
	sc, err := s.NewContext(map[string]any{"n": 1})
	require.NoError(t, err)
	defer func() { _ = sc.Close(context.Background()) }()

	first, err := s.RunSync(sc)
	require.NoError(t, err)
	second, err := s.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), first["next"])
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newScript(t, "for (;;) {}").Run(ctx, nil)
	require.ErrorIs(t, err, scripterr.ErrExecution)
}

func TestFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "main.js")
	require.NoError(t, os.WriteFile(path, []byte("const port = 8080;"), 0o644))

	s, err := FromFile(path, options.WithNativeModules(false))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(path), s.Origin())

	got, err := s.RunSync(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"port": int64(8080)}, got)

	_, err = FromFile(filepath.Join(t.TempDir(), "missing.js"))
	require.Error(t, err)
}

func TestFromURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/snippet.js" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/javascript")
		_, _ = w.Write([]byte("const remote = true;"))
	}))
	defer srv.Close()

	s, err := FromURL(context.Background(), srv.URL+"/snippet.js", options.WithNativeModules(false))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/snippet.js", s.Origin())

	got, err := s.RunSync(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"remote": true}, got)

	_, err = FromURL(context.Background(), "ftp://example.test/a.js")
	require.ErrorIs(t, err, loader.ErrSchemeUnsupported)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newScript(t, "var a = 1;", options.WithRegisterer(reg))

	_, err := s.RunSync(nil)
	require.NoError(t, err)
	_, err = s.Run(context.Background(), nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "jsglobals_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second script reuses the registered collectors.
	other := newScript(t, "var b = 1;", options.WithRegisterer(reg))
	_, err = other.RunSync(nil)
	require.NoError(t, err)
	assert.InDelta(t, 3, testutil.ToFloat64(runsCollector(t, reg)), 0)
}

func runsCollector(t *testing.T, reg *prometheus.Registry) prometheus.Collector {
	t.Helper()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jsglobals_runs_total",
		Help: "Snippet runs by strategy and outcome",
	}, []string{"strategy", "outcome"})
	err := reg.Register(c)
	var already prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &already)
	existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
	require.True(t, ok)
	return existing.WithLabelValues("direct", "success")
}
