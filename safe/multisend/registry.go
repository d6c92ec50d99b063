package multisend

import (
	_ "embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
)

//go:embed deployments.toml
var embeddedDeployments []byte

type registryFile struct {
	Deployments []deploymentEntry `toml:"deployment"`
}

type deploymentEntry struct {
	Version   string            `toml:"version"`
	Addresses map[string]string `toml:"addresses"`
	Networks  map[string]string `toml:"networks"`
}

type deployment struct {
	version  *semver.Version
	networks map[uint64]common.Address
}

// Registry resolves the trusted MultiSendCallOnly address for a chain and
// wallet version. It is safe for concurrent use once built.
type Registry struct {
	deployments []deployment
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
	defaultErr      error
)

// DefaultRegistry returns the registry built from the embedded deployment list.
func DefaultRegistry() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultRegistry, defaultErr = ParseRegistry(embeddedDeployments)
	})
	return defaultRegistry, defaultErr
}

// LoadRegistry reads a deployment list in the embedded TOML format.
func LoadRegistry(path string) (*Registry, error) {
	var file registryFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("multisend: decode %s: %w", path, err)
	}
	return buildRegistry(file)
}

// ParseRegistry builds a registry from TOML content.
func ParseRegistry(raw []byte) (*Registry, error) {
	var file registryFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("multisend: decode deployments: %w", err)
	}
	return buildRegistry(file)
}

func buildRegistry(file registryFile) (*Registry, error) {
	reg := &Registry{}
	for _, entry := range file.Deployments {
		version, err := semver.NewVersion(strings.TrimSpace(entry.Version))
		if err != nil {
			return nil, fmt.Errorf("multisend: deployment version %q: %w", entry.Version, err)
		}
		dep := deployment{version: version, networks: make(map[uint64]common.Address, len(entry.Networks))}
		for chain, kind := range entry.Networks {
			chainID, err := strconv.ParseUint(strings.TrimSpace(chain), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("multisend: %s: chain id %q: %w", version, chain, err)
			}
			raw, ok := entry.Addresses[kind]
			if !ok || !common.IsHexAddress(raw) {
				return nil, fmt.Errorf("multisend: %s: chain %d references unknown address %q", version, chainID, kind)
			}
			dep.networks[chainID] = common.HexToAddress(raw)
		}
		reg.deployments = append(reg.deployments, dep)
	}
	reg.sort()
	return reg, nil
}

func (r *Registry) sort() {
	sort.SliceStable(r.deployments, func(i, j int) bool {
		return r.deployments[i].version.LessThan(r.deployments[j].version)
	})
}

// Merge returns a registry holding both deployment lists. Entries in other
// win for chains both lists cover at the same version.
func (r *Registry) Merge(other *Registry) *Registry {
	merged := &Registry{}
	index := make(map[string]int)
	for _, src := range []*Registry{r, other} {
		if src == nil {
			continue
		}
		for _, dep := range src.deployments {
			key := dep.version.String()
			pos, ok := index[key]
			if !ok {
				index[key] = len(merged.deployments)
				merged.deployments = append(merged.deployments, deployment{
					version:  dep.version,
					networks: make(map[uint64]common.Address, len(dep.networks)),
				})
				pos = index[key]
			}
			for chain, address := range dep.networks {
				merged.deployments[pos].networks[chain] = address
			}
		}
	}
	merged.sort()
	return merged
}

// Lookup returns the MultiSendCallOnly address trusted for a wallet of the
// given version on chainID. Wallets older than every known deployment use the
// oldest one; newer wallets use the newest deployment not above their
// version. An unparsable version or an unknown chain yields false.
func (r *Registry) Lookup(chainID uint64, walletVersion string) (common.Address, bool) {
	if r == nil || len(r.deployments) == 0 {
		return common.Address{}, false
	}
	version, err := semver.NewVersion(strings.TrimSpace(walletVersion))
	if err != nil {
		return common.Address{}, false
	}
	chosen := r.deployments[0]
	for _, dep := range r.deployments {
		// Build metadata such as "+L2" is ignored by the comparison.
		if dep.version.GreaterThan(version) {
			break
		}
		chosen = dep
	}
	address, ok := chosen.networks[chainID]
	return address, ok
}
