package yoloconv

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	names := []string{"cat", "dog", "cat", "bird", "dog", "fish"}
	var ids []int
	for _, n := range names {
		ids = append(ids, reg.Resolve(n))
	}

	if want := []int{0, 1, 0, 2, 1, 3}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("want ids %v, got %v", want, ids)
	}
	for i, c := range reg.Categories {
		if c.ID != i {
			t.Errorf("category %d has id %d", i, c.ID)
		}
	}
	if want := []string{"cat", "dog", "bird", "fish"}; !reflect.DeepEqual(reg.Names(), want) {
		t.Errorf("want names %v, got %v", want, reg.Names())
	}
}

func TestRegistry_ZeroValue(t *testing.T) {
	var reg Registry
	if id := reg.Resolve("a"); id != 0 {
		t.Fatalf("want id 0, got %d", id)
	}
	if id, ok := reg.Lookup("a"); !ok || id != 0 {
		t.Fatalf("want (0, true), got (%d, %v)", id, ok)
	}
}

func TestRegistry_LookupDoesNotInsert(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Lookup("cat"); ok {
		t.Fatal("unexpected category")
	}
	if reg.Len() != 0 {
		t.Fatalf("want empty registry, got %v", reg.Categories)
	}
}

func TestRegistry_Classes(t *testing.T) {
	dir, err := ioutil.TempDir("", "registry")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	reg := NewRegistry()
	reg.Resolve("person")
	reg.Resolve("car")

	path := filepath.Join(dir, ClassesFile)
	if err := reg.WriteClasses(path); err != nil {
		t.Fatal(err)
	}
	content, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "person\ncar\n"; string(content) != want {
		t.Fatalf("want %q, got %q", want, content)
	}

	restored, err := ReadClasses(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(restored.Categories, reg.Categories) {
		t.Fatalf("want %v, got %v", reg.Categories, restored.Categories)
	}
	if id := restored.Resolve("bike"); id != 2 {
		t.Fatalf("want new id 2, got %d", id)
	}
}

func TestRegistry_RestoreDuplicate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.restore([]string{"a", "b", "a"}); err == nil {
		t.Fatal("expected an error for duplicate names")
	}
}
