//go:build !nopostgres
// +build !nopostgres

package postgres

import (
	log "github.com/sirupsen/logrus"

	"github.com/facetdb/facet/store"
)

type postgresFactory struct {
}

func (df postgresFactory) Name() string {
	return "postgres"
}

func (df postgresFactory) Build(arg string, opts store.Options, log *log.Logger) (store.Store, chan struct{}, error) {
	return OpenPostgres(arg, opts, log)
}

func init() {
	store.RegisterFactory("postgres", &postgresFactory{})
}
