package artifact

import (
	"fmt"

	"github.com/joshuapare/artifactkit/artifact/defender"
	"github.com/joshuapare/artifactkit/artifact/fsevents"
	"github.com/joshuapare/artifactkit/artifact/keychain"
	"github.com/joshuapare/artifactkit/artifact/locate"
	"github.com/joshuapare/artifactkit/artifact/mft"
	"github.com/joshuapare/artifactkit/artifact/odl"
	"github.com/joshuapare/artifactkit/artifact/spotlight"
)

// DefaultRegistry returns a registry with every built-in format. The list
// is static: adding a decoder means adding a line here, not an import side
// effect.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	register := func(err error) {
		if err != nil {
			// Only reachable through a defect in the built-in list.
			panic(fmt.Sprintf("artifact: default registry: %v", err))
		}
	}
	register(r.Register(mft.Spec(), func() Decoder { return mft.New() }))
	register(r.Register(keychain.Spec(), func() Decoder { return keychain.New() }))
	register(r.Register(spotlight.Spec(), func() Decoder { return spotlight.New() }))
	register(r.Register(fsevents.Spec(), func() Decoder { return fsevents.New() }))
	register(r.Register(odl.Spec(), func() Decoder { return odl.New() }))
	register(r.Register(locate.Spec(), func() Decoder { return locate.New() }))
	register(r.Register(defender.Spec(), func() Decoder { return defender.New() }))
	return r
}
