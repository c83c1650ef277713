package linker

import (
	"errors"
	"testing"
)

func validInput() Input {
	return Input{
		BaseLibraries: []BaseLibrary{
			{Name: "libc", Bytes: []byte("libc-bytes"), Exports: []string{"malloc"}},
			{Name: "libpython", Bytes: []byte("libpython-bytes"), Imports: []string{"malloc"}, Exports: []string{"Py_Initialize"}},
		},
		Adapter: WASIAdapter{Name: "wasi-adapter", Bytes: []byte("adapter-bytes")},
	}
}

func TestLinker_DeterministicOutputIndependentOfOrder(t *testing.T) {
	l := New()
	in1 := validInput()
	in1.Extensions = []Extension{
		{Name: "numpy", DlopenPath: "numpy/_core.so", Bytes: []byte("numpy-bytes")},
		{Name: "json", DlopenPath: "json/_json.so", Bytes: []byte("json-bytes")},
	}

	in2 := validInput()
	in2.BaseLibraries = []BaseLibrary{in1.BaseLibraries[1], in1.BaseLibraries[0]}
	in2.Extensions = []Extension{in1.Extensions[1], in1.Extensions[0]}

	out1, err := l.Link(in1)
	if err != nil {
		t.Fatalf("Link in1: %v", err)
	}
	out2, err := l.Link(in2)
	if err != nil {
		t.Fatalf("Link in2: %v", err)
	}
	if out1.ComponentHash != out2.ComponentHash {
		t.Fatal("expected identical hash regardless of input slice order")
	}
}

func TestLinker_MissingSymbol(t *testing.T) {
	l := New()
	in := Input{
		BaseLibraries: []BaseLibrary{
			{Name: "libpython", Bytes: []byte("x"), Imports: []string{"malloc"}},
		},
		Adapter: WASIAdapter{Name: "a", Bytes: []byte("y")},
	}
	_, err := l.Link(in)
	if !errors.Is(err, ErrMissingSymbol) {
		t.Fatalf("expected ErrMissingSymbol, got %v", err)
	}
}

func TestLinker_NameCollisionOnDlopenPath(t *testing.T) {
	l := New()
	in := validInput()
	in.Extensions = []Extension{
		{Name: "numpy", DlopenPath: "shared.so", Bytes: []byte("a")},
		{Name: "scipy", DlopenPath: "shared.so", Bytes: []byte("b")},
	}
	_, err := l.Link(in)
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("expected ErrNameCollision, got %v", err)
	}
}

func TestLinker_InvalidArtifactEmptyBytes(t *testing.T) {
	l := New()
	in := validInput()
	in.Extensions = []Extension{{Name: "broken", DlopenPath: "broken.so", Bytes: nil}}
	_, err := l.Link(in)
	if !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("expected ErrInvalidArtifact, got %v", err)
	}
}

func TestLinker_DlopenTablePopulated(t *testing.T) {
	l := New()
	in := validInput()
	in.Extensions = []Extension{{Name: "numpy", DlopenPath: "numpy/_core.so", Bytes: []byte("z")}}
	out, err := l.Link(in)
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if out.DlopenTable["numpy/_core.so"] != "numpy" {
		t.Fatalf("expected dlopen table entry for numpy, got %v", out.DlopenTable)
	}
}
