package chunk

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleDocument() *Chunk {
	return NewDocument(Tag("SCXT"),
		NewData(Tag("scmf"), []byte("version: \"1\"\n")),
		NewData(Tag("scdt"), []byte("odd")),
		NewList(Tag("scsm"),
			NewData(Tag("scsp"), []byte("- /a.wav\n")),
			NewList(Tag("scsl"),
				NewData(Tag("scsf"), []byte("a.wav\x00")),
				NewData(Tag("scsm"), []byte{1, 2, 3, 4, 5}),
			),
		),
	)
}

func TestTagIsStoredReversed(t *testing.T) {
	id := Tag("scmf")
	if string(id[:]) != "fmcs" {
		t.Fatalf("stored bytes = %q, want %q", id[:], "fmcs")
	}
	if id.Code() != "scmf" {
		t.Fatalf("code = %q, want scmf", id.Code())
	}
	if RIFF.Code() != "RIFF" {
		t.Fatalf("RIFF code = %q", RIFF.Code())
	}
}

func TestMarshalLayout(t *testing.T) {
	b, err := Marshal(NewDocument(Tag("SCXT"), NewData(Tag("scdt"), []byte("abc"))))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte("RIFF\x10\x00\x00\x00TXCStdcs\x03\x00\x00\x00abc\x00")
	if !bytes.Equal(b, want) {
		t.Fatalf("bytes = %q, want %q", b, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	b, err := Marshal(sampleDocument())
	if err != nil {
		t.Fatal(err)
	}
	doc, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Type != Tag("SCXT") {
		t.Fatalf("type = %s, want SCXT", doc.Type)
	}
	if got := doc.Sub(Tag("scdt")); got == nil || string(got.Data) != "odd" {
		t.Fatalf("data chunk = %+v", got)
	}
	list := doc.SubList(Tag("scsl"))
	if list != nil {
		t.Fatalf("scsl found at top level")
	}
	samples := doc.SubList(Tag("scsm"))
	if samples == nil {
		t.Fatalf("sample list missing")
	}
	list = samples.SubList(Tag("scsl"))
	if list == nil || len(list.Children) != 2 {
		t.Fatalf("sample list children = %+v", list)
	}
	if !bytes.Equal(list.Children[1].Data, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("payload = %v", list.Children[1].Data)
	}
	again, _ := Marshal(doc)
	if !bytes.Equal(b, again) {
		t.Fatalf("re-marshal differs")
	}
}

func TestParseErrors(t *testing.T) {
	good, _ := Marshal(sampleDocument())
	cases := []struct {
		name string
		b    []byte
		want error
	}{
		{"not riff", []byte("RIFX\x04\x00\x00\x00SCXT"), ErrNotRIFF},
		{"short", []byte("RIFF"), ErrNotRIFF},
		{"extra bytes", append(append([]byte{}, good...), 0, 0), ErrSizeMismatch},
		{"cut", good[:len(good)-4], ErrSizeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.b); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParseTruncatedChild(t *testing.T) {
	b := []byte("RIFF\x10\x00\x00\x00TXCStdcs\x40\x00\x00\x00abcd")
	if _, err := Parse(b); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.scm")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, sampleDocument()); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Sub(Tag("scmf")) == nil {
		t.Fatalf("manifest missing after write")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want only the document", len(entries))
	}
}
