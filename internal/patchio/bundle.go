package patchio

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/cbegin/sampler-go/internal/engine"
	"github.com/cbegin/sampler-go/internal/messaging"
	"github.com/cbegin/sampler-go/internal/sample"
)

//go:embed init_states/*.yaml
var initStates embed.FS

// DefaultBundle is the state an instrument resets to.
const DefaultBundle = "default"

// Bundles lists the embedded init states by name.
func Bundles() []string {
	entries, _ := fs.ReadDir(initStates, "init_states")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	return names
}

// InitFromResourceBundle replaces the instrument with an embedded init state.
func InitFromResourceBundle(c *messaging.Controller, name string) error {
	return messaging.Reportable("Unable to reset engine", initFromBundle(c, name))
}

func initFromBundle(c *messaging.Controller, name string) error {
	if name == "" {
		name = DefaultBundle
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrUnknownBundle, name)
	}
	payload, err := initStates.ReadFile("init_states/" + name + ".yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrUnknownBundle, name)
	}
	if err != nil {
		return err
	}
	prep, err := engine.UnstreamMulti(payload, sample.NewLoader(int(c.Engine().SampleRate()), logger(c)))
	if err != nil {
		return err
	}
	if err := apply(c, prep, allParts); err != nil {
		return err
	}
	logger(c).Info("engine reset", "bundle", name)
	return nil
}
