package store

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Options tunes a Store implementation at open time.
type Options struct {
	// ReadOnly skips bootstrap and migrations at open time. It does not
	// block the write-path methods of the returned Store.
	ReadOnly bool

	// MaxConn overrides the implementation's pool size when nonzero.
	MaxConn uint32
}

// Factory is used to install a Store implementation.
type Factory interface {
	Name() string
	Build(arg string, opts Options, log *log.Logger) (Store, chan struct{}, error)
}

// This layer of indirection allows for different backends to be
// compiled in or out by `go build --tags ...`.
var factories map[string]Factory

// RegisterFactory is called from implementation init() functions, the
// same way sql.DB drivers register themselves.
func RegisterFactory(name string, factory Factory) {
	factories[name] = factory
}

// StoreByName constructs a Store by backend name. Returns the store, an
// availability channel that closes once the schema is ready, and an
// error object.
func StoreByName(name, arg string, opts Options, log *log.Logger) (Store, chan struct{}, error) {
	if val, ok := factories[name]; ok {
		return val.Build(arg, opts, log)
	}
	return nil, nil, fmt.Errorf("no Store factory for %s", name)
}

func init() {
	factories = make(map[string]Factory)
}
