package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ========================================
// ResumeFilter - skip chats already at the destination
// ========================================

// artifactExtensions are stripped before the name is derived
var artifactExtensions = []string{".zip"}

// DestinationLister enumerates artifact file names at the destination
type DestinationLister interface {
	ListArtifacts(ctx context.Context) ([]string, error)
}

// ResumeFilter holds the display names already exported. Matching is exact
// and case-sensitive: "Alice" and "alice" are different chats.
type ResumeFilter struct {
	prefix string

	mu       sync.RWMutex
	exported map[string]struct{}
}

// NewResumeFilter uses prefix to map artifact names back to chat names
func NewResumeFilter(prefix string) *ResumeFilter {
	return &ResumeFilter{prefix: prefix, exported: make(map[string]struct{})}
}

// ArtifactName is the destination file name an export of chat produces
func (f *ResumeFilter) ArtifactName(chat string) string {
	return f.prefix + chat
}

// ChatNameFromArtifact derives the display name from an artifact file name.
// Duplicate-suffixed names such as "WhatsApp Chat with Bob (1).zip" map to
// "Bob (1)" and will not match the chat.
func (f *ResumeFilter) ChatNameFromArtifact(file string) (string, bool) {
	base := filepath.Base(file)
	for _, ext := range artifactExtensions {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	if !strings.HasPrefix(base, f.prefix) {
		return "", false
	}
	name := strings.TrimPrefix(base, f.prefix)
	return name, name != ""
}

// AddArtifacts records destination file names; names outside the pattern are ignored
func (f *ResumeFilter) AddArtifacts(files []string) int {
	added := 0
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range files {
		name, ok := f.ChatNameFromArtifact(file)
		if !ok {
			continue
		}
		if _, dup := f.exported[name]; !dup {
			f.exported[name] = struct{}{}
			added++
		}
	}
	return added
}

// AddChats records display names directly, e.g. from export history
func (f *ResumeFilter) AddChats(names []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.exported[n] = struct{}{}
	}
}

// Load pulls a listing from the destination
func (f *ResumeFilter) Load(ctx context.Context, lister DestinationLister) error {
	files, err := lister.ListArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("list destination: %w", err)
	}
	added := f.AddArtifacts(files)
	LogInfo("resume").Int("artifacts", len(files)).Int("chats", added).Msg("destination listing loaded")
	return nil
}

// Exported reports whether name has an artifact
func (f *ResumeFilter) Exported(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.exported[name]
	return ok
}

// Names returns the exported chat names, sorted
func (f *ResumeFilter) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.exported))
	for n := range f.exported {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Filter splits handles into those still to export and those already exported,
// preserving order.
func (f *ResumeFilter) Filter(handles []ChatHandle) (keep, skipped []ChatHandle) {
	for _, h := range handles {
		if f.Exported(h.DisplayName) {
			skipped = append(skipped, h)
			continue
		}
		keep = append(keep, h)
	}
	return keep, skipped
}

// DirLister lists a locally synced copy of the destination folder
type DirLister struct {
	Dir string
}

// ListArtifacts implements DestinationLister
func (d DirLister) ListArtifacts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}
