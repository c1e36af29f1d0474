package raid5

import "github.com/behrlich/go-raid5/internal/constants"

// Re-exported defaults for callers building an ArrayParams by hand.
const (
	DefaultStripSize             = constants.DefaultStripSize
	DefaultBlockLen               = constants.DefaultBlockLen
	DefaultMaxStripes             = constants.DefaultMaxStripes
	DefaultRequestPoolMultiplier  = constants.DefaultRequestPoolMultiplier
)
