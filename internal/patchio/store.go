package patchio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/cbegin/sampler-go/internal/chunk"
	"github.com/cbegin/sampler-go/internal/engine"
	"github.com/cbegin/sampler-go/internal/messaging"
	"github.com/cbegin/sampler-go/internal/sample"
)

var (
	fileTypeTag       = chunk.Tag("SCXT")
	manifestTag       = chunk.Tag("scmf")
	dataTag           = chunk.Tag("scdt")
	sampleTag         = chunk.Tag("scsm")
	samplePathsTag    = chunk.Tag("scsp")
	sampleListTag     = chunk.Tag("scsl")
	sampleFilenameTag = chunk.Tag("scsf")
	sampleDataTag     = chunk.Tag("scsm")
)

const (
	manifestVersion = 1

	TypeMulti = "multi"
	TypePart  = "part"

	collectSubdir = "samples"

	allParts = -1
)

// Style selects how a save stores sample audio.
type Style int

const (
	// StyleReference stores sample paths only.
	StyleReference Style = iota
	// StyleMonolith embeds every sample file in the document.
	StyleMonolith
	// StyleCollect copies samples next to the document and stores relative paths.
	StyleCollect
)

func (s Style) String() string {
	switch s {
	case StyleReference:
		return "reference"
	case StyleMonolith:
		return "monolith"
	case StyleCollect:
		return "collect"
	default:
		return "style(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s is a known style.
func (s Style) Valid() bool { return s >= StyleReference && s <= StyleCollect }

// ParseStyle maps a style name to a Style.
func ParseStyle(name string) (Style, error) {
	switch strings.ToLower(name) {
	case "reference", "":
		return StyleReference, nil
	case "monolith":
		return StyleMonolith, nil
	case "collect":
		return StyleCollect, nil
	}
	return 0, fmt.Errorf("patchio: unknown save style %q", name)
}

// Manifest is the key/value header every document starts with.
type Manifest map[string]string

// ReadManifest decodes and validates the manifest chunk of doc.
func ReadManifest(doc *chunk.Chunk) (Manifest, error) {
	mc := doc.Sub(manifestTag)
	if mc == nil {
		return nil, ErrMissingManifest
	}
	var m Manifest
	if err := yaml.Unmarshal(mc.Data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	v, err := strconv.Atoi(m["version"])
	if err != nil {
		return nil, fmt.Errorf("%w: version %q", ErrBadManifest, m["version"])
	}
	if v > manifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	if t := m["type"]; t != TypeMulti && t != TypePart {
		return nil, fmt.Errorf("%w: type %q", ErrBadManifest, t)
	}
	return m, nil
}

func manifestChunk(docType string) (*chunk.Chunk, error) {
	b, err := yaml.Marshal(Manifest{"version": strconv.Itoa(manifestVersion), "type": docType})
	if err != nil {
		return nil, err
	}
	return chunk.NewData(manifestTag, b), nil
}

func logger(c *messaging.Controller) *slog.Logger {
	return c.Logger().With("component", "patchio")
}

// SaveMulti writes the whole instrument to path.
func SaveMulti(c *messaging.Controller, path string, style Style) error {
	return messaging.Reportable("Unable to save multi", save(c, path, allParts, style))
}

// SavePart writes one part to path.
func SavePart(c *messaging.Controller, path string, part int, style Style) error {
	if part < 0 || part >= engine.NumParts {
		return messaging.Reportable("Unable to save part", fmt.Errorf("%w: %d", ErrPartIndex, part))
	}
	return messaging.Reportable("Unable to save part", save(c, path, part, style))
}

// snapshot is what a save takes from the engine while rendering is suspended.
type snapshot struct {
	payload []byte
	paths   []string
}

func save(c *messaging.Controller, path string, part int, style Style) error {
	if !style.Valid() {
		return fmt.Errorf("patchio: unknown save style %v", style)
	}
	log := logger(c)
	docPath, collectDir := path, ""
	if style == StyleCollect {
		docPath, collectDir = collectLayout(path)
	}

	var snap snapshot
	if err := c.RunSuspended(func(e *engine.Engine) error {
		var err error
		snap, err = takeSnapshot(e, part, style)
		return err
	}); err != nil {
		return err
	}

	docType := TypeMulti
	if part != allParts {
		docType = TypePart
	}
	mc, err := manifestChunk(docType)
	if err != nil {
		return err
	}
	doc := chunk.NewDocument(fileTypeTag, mc, chunk.NewData(dataTag, snap.payload))

	switch style {
	case StyleMonolith:
		sl, err := buildSampleList(snap.paths)
		if err != nil {
			return err
		}
		doc.Add(sl)
		log.Debug("embedded samples", "count", len(snap.paths))
	case StyleCollect:
		if err := collectSamples(collectDir, snap.paths); err != nil {
			return err
		}
		log.Debug("collected samples", "dir", collectDir, "count", len(snap.paths))
	}

	if err := chunk.WriteFile(docPath, doc); err != nil {
		return err
	}
	log.Info("saved", "path", docPath, "type", docType, "style", style, "samples", len(snap.paths))
	return nil
}

// takeSnapshot runs with rendering suspended. Every check that can reject the
// save happens here, before anything is written.
func takeSnapshot(e *engine.Engine, part int, style Style) (snapshot, error) {
	sm := e.SampleManager()
	e.PurgeUnreferencedSamples()

	var ids []sample.ID
	if part == allParts {
		ids = e.Patch().SamplesUsed()
	} else if p := e.Patch().Parts[part]; p != nil {
		ids = p.SamplesUsed()
	}

	var paths []string
	for _, id := range ids {
		s := sm.Get(id)
		if s == nil {
			continue
		}
		if style != StyleReference && s.Type == sample.SourceMonolith {
			return snapshot{}, fmt.Errorf("%w: %s", ErrRemonolith, s.Path)
		}
		if style == StyleMonolith && !sample.IsLoadableSingleSample(s.Path) {
			return snapshot{}, fmt.Errorf("%w: %s", ErrMultiFileMonolith, s.Path)
		}
		paths = append(paths, s.Path)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	if style == StyleCollect {
		if err := checkFilenameCollisions(paths); err != nil {
			return snapshot{}, err
		}
		sm.ReparentSamplesOnStreamToRelative(collectSubdir + "/")
		defer sm.ClearReparenting()
	}

	var payload []byte
	var err error
	if part == allParts {
		payload, err = engine.StreamMulti(e)
	} else {
		payload, err = engine.StreamPart(e, part)
	}
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{payload: payload, paths: paths}, nil
}

// collectLayout maps dir/name.ext to dir/name/name.ext and dir/name/samples.
func collectLayout(path string) (docPath, sampleDir string) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return filepath.Join(base, filepath.Base(path)), filepath.Join(base, collectSubdir)
}

func baseName(p string) string { return filepath.Base(p) }

func checkFilenameCollisions(paths []string) error {
	owner := make(map[string]string, len(paths))
	for _, p := range paths {
		name := baseName(p)
		if prev, ok := owner[name]; ok && prev != p {
			return fmt.Errorf("%w: %q from %s and %s", ErrDuplicateFilename, name, prev, p)
		}
		owner[name] = p
	}
	return nil
}

func collectSamples(dir string, paths []string) error {
	present, err := checkCollectTargets(dir, paths)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collect directory %s: %w", dir, err)
	}
	for i, p := range paths {
		if present[i] {
			continue
		}
		if err := copyFile(p, filepath.Join(dir, baseName(p))); err != nil {
			return err
		}
	}
	return nil
}

// checkCollectTargets looks at every destination before anything is copied.
// present[i] is true when paths[i] is already in place, either as the same
// file or as identical bytes. Any other file in the way is a collision.
func checkCollectTargets(dir string, paths []string) ([]bool, error) {
	present := make([]bool, len(paths))
	for i, p := range paths {
		dst := filepath.Join(dir, baseName(p))
		di, err := os.Stat(dst)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		si, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		same := os.SameFile(si, di)
		if !same && si.Size() == di.Size() {
			if same, err = sameContents(p, dst); err != nil {
				return nil, err
			}
		}
		if !same {
			return nil, fmt.Errorf("%w: %q already exists in %s and differs from %s", ErrDuplicateFilename, baseName(p), dir, p)
		}
		present[i] = true
	}
	return present, nil
}

func sameContents(a, b string) (bool, error) {
	ab, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	bb, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// LoadMulti replaces the whole instrument with the document at path.
func LoadMulti(c *messaging.Controller, path string) error {
	return messaging.Reportable("Unable to load multi", load(c, path, TypeMulti, allParts))
}

// LoadPartInto replaces part with the part document at path.
func LoadPartInto(c *messaging.Controller, path string, part int) error {
	if part < 0 || part >= engine.NumParts {
		return messaging.Reportable("Unable to load part", fmt.Errorf("%w: %d", ErrPartIndex, part))
	}
	return messaging.Reportable("Unable to load part", load(c, path, TypePart, part))
}

func load(c *messaging.Controller, path, wantType string, part int) error {
	log := logger(c)
	doc, err := chunk.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := ReadManifest(doc)
	if err != nil {
		return err
	}
	if m["type"] != wantType {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongType, m["type"], wantType)
	}
	dc := doc.Sub(dataTag)
	if dc == nil {
		return ErrMissingData
	}

	loader := sample.NewLoader(int(c.Engine().SampleRate()), log)
	loader.SetRelativeRoot(filepath.Dir(path))
	if doc.SubList(sampleTag) != nil {
		r, err := NewMonolithSampleReader(doc)
		if err != nil {
			return err
		}
		loader.SetMonolithBinaryIndex(path, r.Paths(), r.SampleData)
		log.Debug("monolith index read", "path", path, "samples", r.SampleCount())
	}

	var prep *engine.Prepared
	if wantType == TypeMulti {
		prep, err = engine.UnstreamMulti(dc.Data, loader)
	} else {
		prep, err = engine.UnstreamPart(dc.Data, loader)
	}
	if err != nil {
		return err
	}
	if err := apply(c, prep, part); err != nil {
		return err
	}
	log.Info("loaded", "path", path, "type", wantType, "part", part, "samples", len(prep.Samples))
	return nil
}

// StreamState returns the whole instrument as a multi payload, as a host
// stores it in its session.
func StreamState(c *messaging.Controller) ([]byte, error) {
	var payload []byte
	err := c.RunSuspended(func(e *engine.Engine) error {
		var err error
		payload, err = engine.StreamMulti(e)
		return err
	})
	if err != nil {
		return nil, messaging.Reportable("Unable to stream state", err)
	}
	return payload, nil
}

// UnstreamIntoEngine replaces the instrument with a payload produced by
// StreamState. Relative sample paths resolve against the working directory.
func UnstreamIntoEngine(c *messaging.Controller, payload []byte) error {
	prep, err := engine.UnstreamMulti(payload, sample.NewLoader(int(c.Engine().SampleRate()), logger(c)))
	if err == nil {
		err = apply(c, prep, allParts)
	}
	return messaging.Reportable("Unable to restore state", err)
}

func apply(c *messaging.Controller, prep *engine.Prepared, part int) error {
	return c.RunSuspended(func(e *engine.Engine) error {
		return e.ApplyPrepared(prep, part)
	})
}
