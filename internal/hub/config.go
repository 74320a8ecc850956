package hub

import (
	"time"

	"github.com/rs/zerolog"

	"livehub/internal/snippet"
	"livehub/internal/store"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultBootstrapParallelism = 4
	defaultGreeting             = "livehub connected"
)

// Compiler is the part of the snippet compiler the hub uses.
type Compiler interface {
	Check(source string) snippet.Result
}

// Config encapsulates all tunables for Hub construction.
type Config struct {
	Compiler Compiler
	// Backing store; nil keeps modules in memory only.
	Store     store.Store
	Publisher EventPublisher
	Logger    *zerolog.Logger
	// Concurrent compiles while bootstrapping one connection.
	BootstrapParallelism int
	// Modules not pushed within this window are removed by Sweep. Zero
	// keeps modules forever.
	ModuleTTL time.Duration
	Greeting  string
	Now       func() time.Time
}
