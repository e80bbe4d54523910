package addressbook

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Book provides indexed, read-only access to deployment metadata.
//
// The underlying document is a flat JSON object mapping logical names
// (asset symbols plus well-known protocol entry points such as the
// router) to 0x-prefixed contract addresses. The book is loaded once
// at startup and never mutated during a run, so it is safe to share
// across concurrently processed assets.
type Book struct {
	byName map[string]common.Address
}

// Load reads a deployment-metadata JSON file into a Book.
//
// Every value must parse as a checksummed or plain hex address;
// a malformed entry fails the load rather than surfacing later as a
// transaction against a garbage address.
func Load(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("addressbook: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Book from raw deployment-metadata JSON.
func Parse(data []byte) (*Book, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("addressbook: decode deployments: %w", err)
	}

	byName := make(map[string]common.Address, len(raw))
	for name, hexAddr := range raw {
		if !common.IsHexAddress(hexAddr) {
			return nil, fmt.Errorf("addressbook: entry %q is not a hex address: %q", name, hexAddr)
		}
		byName[name] = common.HexToAddress(hexAddr)
	}

	return &Book{byName: byName}, nil
}

// Resolve looks up the address registered under a logical name.
// A missing name is not an error; callers degrade to a per-asset skip.
func (b *Book) Resolve(name string) (common.Address, bool) {
	addr, ok := b.byName[name]
	return addr, ok
}

// Names returns a sorted copy of all registered logical names.
func (b *Book) Names() []string {
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered entries.
func (b *Book) Len() int {
	return len(b.byName)
}
