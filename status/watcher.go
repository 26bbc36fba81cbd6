package status

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/pokt-network/pocket-faucet/logging"
)

// Watch reloads the status file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (s *Service) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch status directory: %w", err)
	}

	target := filepath.Clean(s.path)
	go logging.RecoverGoRoutine(s.logger, logging.ComponentFaucetStatus, func(ctx context.Context) {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Warn().Err(err).Msg("failed to reload faucet status, keeping previous entries")
				} else {
					s.logger.Info().Str(logging.FieldPath, s.path).Msg("faucet status reloaded")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn().Err(err).Msg("status file watcher error")
			}
		}
	})(ctx)
	return nil
}
