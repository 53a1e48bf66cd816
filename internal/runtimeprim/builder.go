// Package runtimeprim builds the runtime primitives a freestanding target
// must provide itself (memcpy, memset, 128-bit division, ...) and caches the
// result per target descriptor.
package runtimeprim

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kiln/internal/project"
	"kiln/internal/target"
	"kiln/internal/toolchain"
	"kiln/internal/trace"
	runtimeembed "kiln/runtime"
)

// Set is a built, immutable collection of primitive objects for one
// descriptor. Kernels link Archive read-only.
type Set struct {
	Key        project.Digest
	Descriptor string
	Primitives []target.Primitive
	Objects    map[target.Primitive]string
	// Guest is the object implementing kiln_exit and kiln_panic. It is
	// also a member of Archive.
	Guest   string
	Archive string
	// IncludeDir holds kiln.h for kernels that signal their verdict.
	IncludeDir string
	// Hosted sets are empty: the target's own runtime provides everything.
	Hosted bool
	// Cached reports that the set came from disk without invoking the toolchain.
	Cached bool
}

// ObjectPaths returns the object files in primitive order.
func (s *Set) ObjectPaths() []string {
	out := make([]string, 0, len(s.Objects))
	for _, p := range s.Primitives {
		if obj, ok := s.Objects[p]; ok {
			out = append(out, obj)
		}
	}
	return out
}

// Builder compiles primitive sets.
type Builder struct {
	Toolchain *toolchain.Toolchain
	Cache     *Cache
	// Jobs bounds parallel compiles; zero means GOMAXPROCS.
	Jobs int
}

// RequiredPrimitives returns the sorted primitive names d needs. An abort
// descriptor never requires unwind.
func RequiredPrimitives(d target.Descriptor) []string {
	n := d.Normalize()
	out := make([]string, 0, len(n.Primitives))
	for _, p := range target.KnownPrimitives {
		if !n.HasPrimitive(p) {
			continue
		}
		if p == target.PrimUnwind && n.Panic == target.PanicAbort {
			continue
		}
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

var (
	sourcesOnce   sync.Once
	sourcesDigest project.Digest
)

// SourcesDigest hashes every embedded primitive source so that cached sets
// are rebuilt when kiln ships different sources.
func SourcesDigest() project.Digest {
	sourcesOnce.Do(func() {
		fsys := runtimeembed.NativeRuntimeFS()
		var parts []project.Digest
		_ = fs.WalkDir(fsys, "native", func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return err
			}
			parts = append(parts, project.BytesDigest(append([]byte(p+"\x00"), data...)))
			return nil
		})
		sourcesDigest = project.Combine(project.BytesDigest([]byte("kiln-prims")), parts...)
	})
	return sourcesDigest
}

// Build returns the primitive set for d, compiling it on a cache miss.
// An invalid descriptor is returned as its *target.ConfigurationError.
func (b *Builder) Build(ctx context.Context, d target.Descriptor) (*Set, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	n := d.Normalize()
	key := n.Digest()

	ctx, span := trace.Start(ctx, trace.ScopeStage, "primitives")
	span.WithExtra("target", n.Name)

	if n.Hosted() {
		span.End("hosted")
		return &Set{Key: key, Descriptor: n.Name, Hosted: true}, nil
	}

	if set, ok, err := b.Cache.Get(key, SourcesDigest()); err != nil {
		span.End("cache error")
		return nil, fmt.Errorf("failed to read primitive cache: %w", err)
	} else if ok {
		trace.Point(trace.FromContext(ctx), trace.ScopeCommand, "cache hit", key.Short(), span.ID())
		span.End("cached")
		return set, nil
	}

	set, err := b.build(ctx, n, key)
	if err != nil {
		trace.Error(trace.FromContext(ctx), trace.ScopeStage, "primitives", err, span.ID())
		span.End("failed")
		return nil, err
	}
	span.End("built")
	return set, nil
}

func (b *Builder) build(ctx context.Context, n target.Descriptor, key project.Digest) (set *Set, err error) {
	if b.Toolchain == nil {
		return nil, fmt.Errorf("primitives for %s: no toolchain configured", n.Name)
	}
	if b.Cache == nil {
		return nil, fmt.Errorf("primitives for %s: no cache configured", n.Name)
	}

	tmp, err := b.Cache.tempDir(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create primitive build dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	prims := RequiredPrimitives(n)
	sources, err := extractSources(filepath.Join(tmp, "src"), prims)
	if err != nil {
		return nil, err
	}
	if err := extractHeader(filepath.Join(tmp, includeDirName)); err != nil {
		return nil, err
	}

	flags := append(slices.Clone(n.CFlags()), "-O2", "-std=c11")

	objects := make(map[string]string, len(prims))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	jobs := b.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(jobs)
	for _, prim := range prims {
		src := sources[prim]
		obj := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + ".o"
		g.Go(func() error {
			if err := b.Toolchain.Compile(gctx, toolchain.StagePrimitives, n.Name, flags, src, filepath.Join(tmp, obj)); err != nil {
				return err
			}
			mu.Lock()
			objects[prim] = obj
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		src := filepath.Join(tmp, "src", path.Base(runtimeembed.GuestSource))
		return b.Toolchain.Compile(gctx, toolchain.StagePrimitives, n.Name, flags, src, filepath.Join(tmp, guestObjectName))
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	objPaths := make([]string, 0, len(prims)+1)
	for _, prim := range prims {
		objPaths = append(objPaths, filepath.Join(tmp, objects[prim]))
	}
	objPaths = append(objPaths, filepath.Join(tmp, guestObjectName))
	if err := b.Toolchain.Archive(ctx, toolchain.StagePrimitives, n.Name, filepath.Join(tmp, archiveName), objPaths); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(filepath.Join(tmp, "src")); err != nil {
		return nil, err
	}

	m := &manifest{
		Schema:       cacheSchemaVersion,
		Descriptor:   n.Name,
		Key:          key,
		SourceDigest: SourcesDigest(),
		Objects:      objects,
		Guest:        guestObjectName,
		Archive:      archiveName,
		Include:      includeDirName,
		BuiltAt:      time.Now().UTC(),
	}
	for _, p := range prims {
		m.Primitives = append(m.Primitives, target.Primitive(p))
	}
	return b.Cache.commit(tmp, m)
}

// extractHeader writes the guest protocol header into dir.
func extractHeader(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create include dir: %w", err)
	}
	data, err := fs.ReadFile(runtimeembed.NativeRuntimeFS(), runtimeembed.GuestHeader)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, path.Base(runtimeembed.GuestHeader)), data, 0o600)
}

// extractSources writes the shared headers, the guest protocol source and
// the sources of prims into dir.
func extractSources(dir string, prims []string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create primitive source dir: %w", err)
	}
	fsys := runtimeembed.NativeRuntimeFS()
	write := func(entry string) (string, error) {
		data, err := fs.ReadFile(fsys, entry)
		if err != nil {
			return "", err
		}
		dst := filepath.Join(dir, path.Base(entry))
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return "", err
		}
		return dst, nil
	}

	headers, err := fs.Glob(fsys, "native/*.h")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		if _, err := write(h); err != nil {
			return nil, fmt.Errorf("failed to extract primitive sources: %w", err)
		}
	}

	if _, err := write(runtimeembed.GuestSource); err != nil {
		return nil, fmt.Errorf("failed to extract guest sources: %w", err)
	}

	out := make(map[string]string, len(prims))
	for _, prim := range prims {
		entry, ok := runtimeembed.PrimitiveSource[prim]
		if !ok {
			return nil, fmt.Errorf("no embedded source for primitive %q (build bug)", prim)
		}
		dst, err := write(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to extract primitive sources: %w", err)
		}
		out[prim] = dst
	}
	return out, nil
}
