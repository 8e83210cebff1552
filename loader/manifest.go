package loader

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-fmu/errors"
)

const (
	ManifestFile = "mainclass.txt"
	ArchiveFile  = "model.wasm"
)

// ClassName is a parsed qualified class name.
type ClassName struct {
	// Interface is the interface path, "<namespace>:<package>/<interface>".
	Interface string
	Resource  string
}

func (c ClassName) String() string {
	return c.Interface + "#" + c.Resource
}

// Constructor returns the constructor export name.
func (c ClassName) Constructor() string {
	return c.Interface + "#[constructor]" + c.Resource
}

// Destructor returns the destructor export name.
func (c ClassName) Destructor() string {
	return c.Interface + "#[dtor]" + c.Resource
}

// Method returns the export name of a method.
func (c ClassName) Method(name string) string {
	return c.methodPrefix() + name
}

func (c ClassName) methodPrefix() string {
	return c.Interface + "#[method]" + c.Resource + "."
}

// ParseClassName parses "<namespace>:<package>/<interface>#<resource>".
func ParseClassName(name string) (ClassName, error) {
	hash := strings.LastIndexByte(name, '#')
	if hash <= 0 || hash == len(name)-1 {
		return ClassName{}, errors.InvalidInput(errors.PhaseLoad, "malformed class name %q: expected <interface>#<resource>", name)
	}
	iface, res := name[:hash], name[hash+1:]

	colon := strings.IndexByte(iface, ':')
	slash := strings.IndexByte(iface, '/')
	if colon <= 0 || slash < colon+2 || slash == len(iface)-1 {
		return ClassName{}, errors.InvalidInput(errors.PhaseLoad, "malformed class name %q: expected <namespace>:<package>/<interface>", name)
	}
	if strings.ContainsAny(name, " \t[]") {
		return ClassName{}, errors.InvalidInput(errors.PhaseLoad, "malformed class name %q", name)
	}
	return ClassName{Interface: iface, Resource: res}, nil
}

// ReadManifest returns the class name from the first line of dir's manifest.
// Any failure is a fatal construction error.
func ReadManifest(dir string) (ClassName, error) {
	path := filepath.Join(dir, ManifestFile)
	f, err := os.Open(path)
	if err != nil {
		return ClassName{}, errors.InvalidManifest(path, "unable to read manifest", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var line string
	if sc.Scan() {
		line = strings.TrimSpace(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return ClassName{}, errors.InvalidManifest(path, "unable to read manifest", err)
	}
	if line == "" {
		return ClassName{}, errors.InvalidManifest(path, "missing class name", nil)
	}

	name, err := ParseClassName(line)
	if err != nil {
		return ClassName{}, errors.InvalidManifest(path, "invalid class name", err)
	}
	return name, nil
}
