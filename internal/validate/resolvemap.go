package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ben-ranford/depsplit/internal/bundler"
)

const ResolveMapFile = "resolve-map.json"

// ResolveMap records, per emitted entry chunk, the source module that last
// imported each external specifier reachable from it.
type ResolveMap map[string]map[string]string

// Importer returns the recorded importer of spec for chunk.
func (m ResolveMap) Importer(chunk, spec string) (string, bool) {
	importers, ok := m[chunk]
	if !ok {
		return "", false
	}
	importer, ok := importers[spec]
	return importer, ok
}

// BuildResolveMap walks the static chunk graph of every entry and dynamic
// entry chunk.
func BuildResolveMap(out bundler.Output) ResolveMap {
	byPath := make(map[string]bundler.Chunk, len(out.Chunks))
	for _, chunk := range out.Chunks {
		byPath[chunk.Path] = chunk
	}

	resolveMap := make(ResolveMap)
	for _, chunk := range out.Chunks {
		if !chunk.IsEntry && !chunk.IsDynamicEntry {
			continue
		}
		importers := make(map[string]string)
		for _, member := range reachableChunks(chunk, byPath, out.OutDir) {
			for _, module := range member.Modules {
				if bundler.IsVirtualID(module) {
					continue
				}
				for _, imp := range out.ModuleImports[module] {
					if imp.External {
						importers[imp.Path] = module
					}
				}
			}
		}
		resolveMap[chunk.File] = importers
	}
	return resolveMap
}

func reachableChunks(start bundler.Chunk, byPath map[string]bundler.Chunk, outDir string) []bundler.Chunk {
	visited := map[string]bool{start.Path: true}
	order := []bundler.Chunk{start}
	for i := 0; i < len(order); i++ {
		for _, imp := range order[i].Imports {
			if imp.External || imp.IsDynamic() {
				continue
			}
			next, ok := lookupChunk(imp.Path, byPath, outDir)
			if !ok || visited[next.Path] {
				continue
			}
			visited[next.Path] = true
			order = append(order, next)
		}
	}
	return order
}

// lookupChunk matches a metafile chunk import, which is relative to the
// bundler working directory, against the known chunk paths.
func lookupChunk(path string, byPath map[string]bundler.Chunk, outDir string) (bundler.Chunk, bool) {
	if chunk, ok := byPath[path]; ok {
		return chunk, true
	}
	base := filepath.Base(filepath.FromSlash(path))
	if chunk, ok := byPath[filepath.Join(outDir, base)]; ok {
		return chunk, true
	}
	for candidate, chunk := range byPath {
		if filepath.ToSlash(candidate) == path || hasSlashSuffix(filepath.ToSlash(candidate), path) {
			return chunk, true
		}
	}
	return bundler.Chunk{}, false
}

func hasSlashSuffix(full, suffix string) bool {
	return len(full) > len(suffix) && full[len(full)-len(suffix)-1] == '/' && full[len(full)-len(suffix):] == suffix
}

// Chunks lists the chunk files in the map, sorted.
func (m ResolveMap) Chunks() []string {
	files := make([]string, 0, len(m))
	for file := range m {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

// WriteResolveMap persists m as indented JSON in dir and returns the file path.
func WriteResolveMap(dir string, m ResolveMap) (string, error) {
	if m == nil {
		m = ResolveMap{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode resolve map: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create resolve map dir: %w", err)
	}
	path := filepath.Join(dir, ResolveMapFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write resolve map: %w", err)
	}
	return path, nil
}
