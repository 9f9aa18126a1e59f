// Package seedassets embeds the packages served before any manifest has
// loaded, so the service answers resource requests from first boot.
package seedassets

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/keithlinneman/pkgres/internal/backend"
	"github.com/keithlinneman/pkgres/internal/resource"
)

// seed/ must exist and have at least one file to satisfy go:embed
//
//go:embed seed
var embedded embed.FS

// SeedFS returns the embedded seed tree.
func SeedFS() fs.FS {
	sub, err := fs.Sub(embedded, "seed")
	if err != nil {
		panic(fmt.Errorf("seedassets: seed subfs: %w", err))
	}
	return sub
}

// Packages returns the static packages every deployment starts with. The
// manifest may later shadow them by name.
func Packages() []resource.Package {
	return []resource.Package{
		{
			Name:      "pkgres.seed",
			IsPackage: true,
			Loader:    backend.NewFS(SeedFS()),
		},
	}
}
