package eryx

import (
	"context"
	"testing"
)

func TestBuildOptions_CacheKeyIsOrderIndependent(t *testing.T) {
	a := BuildOptions{
		Extensions:     []Extension{{Name: "numpy", Bytes: []byte("np")}, {Name: "zlib", Bytes: []byte("z")}},
		PreinitImports: []string{"json", "re"},
	}
	b := BuildOptions{
		Extensions:     []Extension{{Name: "zlib", Bytes: []byte("z")}, {Name: "numpy", Bytes: []byte("np")}},
		PreinitImports: []string{"re", "json"},
	}
	if a.cacheKey().Hex() != b.cacheKey().Hex() {
		t.Fatal("expected cache key to be independent of extension/import order")
	}
}

func TestBuildOptions_CacheKeyChangesWithExtensionBytes(t *testing.T) {
	a := BuildOptions{Extensions: []Extension{{Name: "numpy", Bytes: []byte("v1")}}}
	b := BuildOptions{Extensions: []Extension{{Name: "numpy", Bytes: []byte("v2")}}}
	if a.cacheKey().Hex() == b.cacheKey().Hex() {
		t.Fatal("expected different extension bytes to produce different cache keys")
	}
}

func TestBuildOptions_CacheKeyBindsRuntimeAndLinkerVersion(t *testing.T) {
	key := BuildOptions{}.cacheKey()
	if key.RuntimeVersion != RuntimeVersion || key.LinkerVersion != LinkerVersion {
		t.Fatalf("expected cache key to bind current runtime/linker versions, got %+v", key)
	}
}

func TestBuildOptionsContext_RoundTrips(t *testing.T) {
	opts := BuildOptions{PreinitImports: []string{"json"}}
	ctx := withBuildOptions(context.Background(), opts)
	got, ok := buildOptionsFrom(ctx)
	if !ok {
		t.Fatal("expected BuildOptions to round-trip through context")
	}
	if len(got.PreinitImports) != 1 || got.PreinitImports[0] != "json" {
		t.Fatalf("unexpected round-tripped options: %+v", got)
	}
}

func TestBuildOptionsContext_AbsentByDefault(t *testing.T) {
	if _, ok := buildOptionsFrom(context.Background()); ok {
		t.Fatal("expected a bare context to carry no BuildOptions")
	}
}

func TestHashBytes_IsStableAndContentSensitive(t *testing.T) {
	h1 := hashBytes([]byte("hello"))
	h2 := hashBytes([]byte("hello"))
	h3 := hashBytes([]byte("world"))
	if h1 != h2 {
		t.Fatal("expected hashBytes to be deterministic")
	}
	if h1 == h3 {
		t.Fatal("expected hashBytes to differ for different content")
	}
}

func TestNewBuilder_RequiresArtifacts(t *testing.T) {
	_, err := NewBuilder(BuilderConfig{})
	if err == nil {
		t.Fatal("expected NewBuilder to reject a config with no Artifacts store")
	}
}
