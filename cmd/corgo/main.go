// Command corgo is the thin CLI entrypoint: flag/argument plumbing over
// the core's build, update, and verify operations.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/corgo-rs/corgo/internal/archive"
	"github.com/corgo-rs/corgo/internal/builddriver"
	"github.com/corgo-rs/corgo/internal/config"
	"github.com/corgo-rs/corgo/internal/corgolog"
	"github.com/corgo-rs/corgo/internal/index"
	"github.com/corgo-rs/corgo/internal/lockfile"
	"github.com/corgo-rs/corgo/internal/manifest"
	"github.com/corgo-rs/corgo/internal/model"
	"github.com/corgo-rs/corgo/internal/resolve"
	"github.com/corgo-rs/corgo/internal/source"
	"github.com/corgo-rs/corgo/internal/verify"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "corgo",
		Short:         "a package manager and build driver core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd(), newUpdateCmd(), newVerifyCmd())
	return root
}

// env bundles the per-invocation state every subcommand composes from:
// config, a logger, and the index/archive backing the default registry.
type env struct {
	cfg        config.Config
	log        *corgolog.Logger
	idx        *index.Store
	arc        *archive.Cache
	registryID model.SourceId
}

func setupEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := corgolog.New(cfg.Verbose)
	client := &http.Client{Timeout: cfg.FetchTimeout}
	hash := registryHash(cfg.RegistryURL)

	idx, err := index.New(cfg.IndexDir(hash), cfg.RegistryURL, client, log)
	if err != nil {
		return nil, err
	}
	arc, err := archive.New(cfg.ArchiveDir(hash), cfg.SrcDir(hash), client, log)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:        cfg,
		log:        log,
		idx:        idx,
		arc:        arc,
		registryID: model.SourceId{Kind: model.SourceRegistry, URL: cfg.RegistryURL},
	}, nil
}

// sourceFor returns the resolver/build-driver callback that maps a SourceId
// to its concrete Source, threading bias through to the registry source's
// yank policy.
func (e *env) sourceFor(bias source.LockBias) func(model.SourceId) (source.Source, error) {
	return func(id model.SourceId) (source.Source, error) {
		switch id.Kind {
		case model.SourceRegistry:
			return source.NewRegistrySource(id, e.idx, e.arc, bias), nil
		case model.SourcePath:
			return source.NewPathSource(id, e.arc), nil
		case model.SourceGit:
			return source.NewGitSource(id), nil
		default:
			return nil, fmt.Errorf("unrecognized source %s", id)
		}
	}
}

func registryHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func loadManifest() (*manifest.Manifest, error) {
	data, err := os.ReadFile(manifest.FileName)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", manifest.FileName, err)
	}
	return manifest.Parse(data)
}

func rootSummary(m *manifest.Manifest, registryID model.SourceId) model.Summary {
	return model.Summary{
		ID:   model.PackageId{Name: m.Name, Version: m.Version, Source: registryID},
		Deps: m.AllDependencies(true),
	}
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "resolve dependencies and hand a build order to the compiler",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupEnv()
			if err != nil {
				return err
			}
			defer e.log.Sync()

			ctx := cmd.Context()
			if err := e.idx.Update(ctx, false); err != nil {
				return err
			}

			m, err := loadManifest()
			if err != nil {
				return err
			}
			lock, err := lockfile.Load(lockfile.FileName)
			if err != nil {
				return err
			}

			bias := source.LockBias{LockedVersion: lock.LockedVersion, Reresolving: lock.Reresolving}
			sourceFor := e.sourceFor(bias)

			r := resolve.New(sourceFor, lock.Biased, e.log)
			res, err := r.Resolve(ctx, rootSummary(m, e.registryID))
			if err != nil {
				return err
			}

			if err := lockfile.Write(lockfile.FileName, res); err != nil {
				return err
			}

			if err := builddriver.Prefetch(ctx, res, sourceFor, e.cfg.FetchConcurrency, e.log); err != nil {
				return err
			}
			_, err = builddriver.Build(ctx, res, sourceFor, e.log)
			return err
		},
	}
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "re-resolve the lockfile, optionally scoped to named packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := cmd.Flags().GetStringArray("package")
			if err != nil {
				return err
			}

			e, err := setupEnv()
			if err != nil {
				return err
			}
			defer e.log.Sync()

			ctx := cmd.Context()
			if err := e.idx.Update(ctx, false); err != nil {
				return err
			}

			m, err := loadManifest()
			if err != nil {
				return err
			}
			lock, err := lockfile.Load(lockfile.FileName)
			if err != nil {
				return err
			}

			if len(names) == 0 {
				names = lock.Names()
			}
			lock.ForceUpdate(names...)

			bias := source.LockBias{LockedVersion: lock.LockedVersion, Reresolving: lock.Reresolving}
			sourceFor := e.sourceFor(bias)

			r := resolve.New(sourceFor, lock.Biased, e.log)
			res, err := r.Resolve(ctx, rootSummary(m, e.registryID))
			if err != nil {
				return err
			}
			return lockfile.Write(lockfile.FileName, res)
		},
	}
	cmd.Flags().StringArrayP("package", "p", nil, "limit the update to this package and its unique dependents (repeatable)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "stage the project into a tarball and resolve it against the real registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setupEnv()
			if err != nil {
				return err
			}
			defer e.log.Sync()

			ctx := cmd.Context()
			if err := e.idx.Update(ctx, false); err != nil {
				return err
			}

			m, err := loadManifest()
			if err != nil {
				return err
			}

			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			// No lock bias: verification simulates a fresh consumer.
			v := verify.New(e.sourceFor(source.LockBias{}), e.log)
			_, err = v.Verify(ctx, dir, m, e.registryID)
			return err
		},
	}
}
