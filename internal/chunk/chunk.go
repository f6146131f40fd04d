package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrNotRIFF      = errors.New("chunk: not a RIFF document")
	ErrTruncated    = errors.New("chunk: truncated chunk")
	ErrSizeMismatch = errors.New("chunk: declared size does not match file size")
	ErrTooLarge     = errors.New("chunk: payload exceeds 4GiB")
)

const headerSize = 8

// ID is a four byte chunk tag as it appears on disk.
type ID [4]byte

// Tag packs a four character code the way a C multi-character literal is
// laid out in a little-endian word, so the characters appear reversed on disk.
func Tag(code string) ID {
	if len(code) != 4 {
		panic("chunk: tag must be four characters: " + code)
	}
	return ID{code[3], code[2], code[1], code[0]}
}

var (
	RIFF = ID{'R', 'I', 'F', 'F'}
	LIST = ID{'L', 'I', 'S', 'T'}
)

// Code returns the four character code the tag was packed from. RIFF and
// LIST are literal and returned as stored.
func (id ID) Code() string {
	if id == RIFF || id == LIST {
		return string(id[:])
	}
	return string([]byte{id[3], id[2], id[1], id[0]})
}

func (id ID) String() string { return id.Code() }

// Chunk is one node of a document. RIFF and LIST nodes carry a Type and
// Children; every other node carries Data.
type Chunk struct {
	ID       ID
	Type     ID
	Data     []byte
	Children []*Chunk
}

func NewData(id ID, data []byte) *Chunk {
	return &Chunk{ID: id, Data: data}
}

func NewList(typ ID, children ...*Chunk) *Chunk {
	return &Chunk{ID: LIST, Type: typ, Children: children}
}

func NewDocument(typ ID, children ...*Chunk) *Chunk {
	return &Chunk{ID: RIFF, Type: typ, Children: children}
}

func (c *Chunk) IsList() bool { return c.ID == RIFF || c.ID == LIST }

// Add appends child and returns it.
func (c *Chunk) Add(child *Chunk) *Chunk {
	c.Children = append(c.Children, child)
	return child
}

// Sub returns the first data child tagged id.
func (c *Chunk) Sub(id ID) *Chunk {
	for _, ch := range c.Children {
		if !ch.IsList() && ch.ID == id {
			return ch
		}
	}
	return nil
}

// SubList returns the first list child of type typ.
func (c *Chunk) SubList(typ ID) *Chunk {
	for _, ch := range c.Children {
		if ch.ID == LIST && ch.Type == typ {
			return ch
		}
	}
	return nil
}

// size is the payload length excluding the header and padding.
func (c *Chunk) size() int {
	if !c.IsList() {
		return len(c.Data)
	}
	n := 4
	for _, ch := range c.Children {
		n += headerSize + padded(ch.size())
	}
	return n
}

func padded(n int) int { return n + n&1 }

// Marshal encodes c and its children. Odd payloads are padded to even length.
func Marshal(c *Chunk) ([]byte, error) {
	if uint64(c.size()) > 0xffffffff {
		return nil, ErrTooLarge
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + padded(c.size()))
	c.write(&buf)
	return buf.Bytes(), nil
}

func (c *Chunk) write(buf *bytes.Buffer) {
	var hdr [headerSize]byte
	copy(hdr[:4], c.ID[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(c.size()))
	buf.Write(hdr[:])
	if c.IsList() {
		buf.Write(c.Type[:])
		for _, ch := range c.Children {
			ch.write(buf)
		}
		return
	}
	buf.Write(c.Data)
	if len(c.Data)&1 == 1 {
		buf.WriteByte(0)
	}
}

// Parse decodes a whole document. The top level must be a RIFF chunk whose
// declared size accounts for every byte of b.
func Parse(b []byte) (*Chunk, error) {
	if len(b) < headerSize+4 || idAt(b) != RIFF {
		return nil, ErrNotRIFF
	}
	declared := int(binary.LittleEndian.Uint32(b[4:8]))
	if declared != len(b)-headerSize && padded(declared) != len(b)-headerSize {
		return nil, fmt.Errorf("%w: header says %d bytes, file has %d", ErrSizeMismatch, declared, len(b)-headerSize)
	}
	c, _, err := parseChunk(b)
	return c, err
}

func parseChunk(b []byte) (*Chunk, int, error) {
	if len(b) < headerSize {
		return nil, 0, ErrTruncated
	}
	c := &Chunk{ID: idAt(b)}
	size := int(binary.LittleEndian.Uint32(b[4:8]))
	body := b[headerSize:]
	if size > len(body) {
		return nil, 0, fmt.Errorf("%w: %s wants %d bytes, %d left", ErrTruncated, c.ID, size, len(body))
	}
	body = body[:size]
	consumed := headerSize + size
	if size&1 == 1 && consumed < len(b) {
		consumed++
	}
	if !c.IsList() {
		c.Data = body
		return c, consumed, nil
	}
	if size < 4 {
		return nil, 0, fmt.Errorf("%w: %s list without type", ErrTruncated, c.ID)
	}
	c.Type = idAt(body)
	for rest := body[4:]; len(rest) > 0; {
		child, n, err := parseChunk(rest)
		if err != nil {
			return nil, 0, err
		}
		c.Children = append(c.Children, child)
		rest = rest[n:]
	}
	return c, consumed, nil
}

// ReadFile parses the document stored at path.
func ReadFile(path string) (*Chunk, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// WriteFile encodes c and replaces path with it. The document is written to
// a temporary file in the same directory first, so a failure leaves any
// existing document at path untouched.
func WriteFile(path string, c *Chunk) error {
	b, err := Marshal(c)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func idAt(b []byte) ID { return ID{b[0], b[1], b[2], b[3]} }
