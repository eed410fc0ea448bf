package heap

import "github.com/pengine/pstd/internal/utils"

// CreateFlags indicate specific registry behaviors to activate or deactivate
type CreateFlags int32

var registryCreateFlagsMapping = utils.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	registryCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return registryCreateFlagsMapping.FlagsToString(f)
}

const (
	// RegistryCreateUncheckedOwnership turns off the check that panics when a Registry is used by
	// two callers at once. The consumer must still guarantee that the registry is only used from
	// one goroutine at a time.
	RegistryCreateUncheckedOwnership CreateFlags = 1 << iota
)

func init() {
	RegistryCreateUncheckedOwnership.Register("RegistryCreateUncheckedOwnership")
}
