package envstore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/osinstall/osinstall/internal/environment"
)

// Probes supplies the three snapshot parts. In test mode all of them are
// backed by the fixture, otherwise by live system probing.
type Probes struct {
	Locales func(ctx context.Context) (environment.LocaleInfo, error)
	Iso     func(ctx context.Context) (environment.IsoDocument, error)
	Runtime func(ctx context.Context) (environment.RuntimeInfo, error)
}

// FixtureProbes returns probes answering from the given snapshot.
func FixtureProbes(snapshot *environment.Snapshot) Probes {
	return Probes{
		Locales: func(context.Context) (environment.LocaleInfo, error) {
			return snapshot.Locales, nil
		},
		Iso: func(context.Context) (environment.IsoDocument, error) {
			return environment.IsoDocument{
				Iso:       snapshot.Iso,
				Product:   snapshot.Product,
				Locations: snapshot.Locations,
			}, nil
		},
		Runtime: func(context.Context) (environment.RuntimeInfo, error) {
			return snapshot.Runtime, nil
		},
	}
}

// Collect runs all probes concurrently and assembles the snapshot without
// publishing anything.
func Collect(ctx context.Context, probes Probes) (*environment.Snapshot, error) {
	var snapshot environment.Snapshot
	var isoDoc environment.IsoDocument

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snapshot.Locales, err = probes.Locales(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		isoDoc, err = probes.Iso(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snapshot.Runtime, err = probes.Runtime(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot.Iso = isoDoc.Iso
	snapshot.Product = isoDoc.Product
	snapshot.Locations = isoDoc.Locations
	return &snapshot, nil
}

// Dump runs all probes and publishes their output. Probing is all-or-nothing:
// when any probe fails nothing is staged and previously published documents
// stay as they are.
func (s *Store) Dump(ctx context.Context, probes Probes) (*environment.Snapshot, error) {
	snapshot, err := Collect(ctx, probes)
	if err != nil {
		return nil, err
	}
	if err := s.Publish(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
