package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"cssbattle/pkg/markup"
)

// sourceFiles are the two editor buffers of a solution.
type sourceFiles struct {
	HTML string
	CSS  string // optional
}

// load reads both files into a document. A missing stylesheet is empty.
func (f sourceFiles) load() (markup.Document, error) {
	html, err := os.ReadFile(f.HTML)
	if err != nil {
		return markup.Document{}, fmt.Errorf("reading markup: %w", err)
	}
	doc := markup.Document{Markup: string(html)}
	if f.CSS == "" {
		return doc, nil
	}
	css, err := os.ReadFile(f.CSS)
	if err != nil && !os.IsNotExist(err) {
		return markup.Document{}, fmt.Errorf("reading stylesheet: %w", err)
	}
	doc.Style = string(css)
	return doc, nil
}

// relevant reports whether ev changed one of the source files.
func (f sourceFiles) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == filepath.Clean(f.HTML) || (f.CSS != "" && name == filepath.Clean(f.CSS))
}

// dirs returns the directories to watch. Editors replace files on save, so
// the parent directory is watched rather than the file itself.
func (f sourceFiles) dirs() []string {
	dirs := []string{filepath.Dir(f.HTML)}
	if f.CSS != "" && filepath.Dir(f.CSS) != dirs[0] {
		dirs = append(dirs, filepath.Dir(f.CSS))
	}
	return dirs
}

// watch calls onChange with the reloaded document after every save until
// ctx is done.
func watch(ctx context.Context, files sourceFiles, log zerolog.Logger, onChange func(markup.Document)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	for _, dir := range files.dirs() {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !files.relevant(ev) {
				continue
			}
			doc, err := files.load()
			if err != nil {
				log.Warn().Err(err).Str("file", ev.Name).Msg("reload failed")
				continue
			}
			onChange(doc)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}
