package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"Tidelink/driver"
	"Tidelink/logger"

	"github.com/fsnotify/fsnotify"
)

// LoadNodes 读取节点列表文件
//
// 文件内容为 JSON 数组：[{"name","host","port","auth","secure","driver"}]。
func LoadNodes(path string) ([]driver.NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes file: %w", err)
	}

	var nodes []driver.NodeConfig
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse nodes file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		switch {
		case n.Name == "":
			return nil, fmt.Errorf("node #%d: name is required", i)
		case n.Host == "":
			return nil, fmt.Errorf("node %s: host is required", n.Name)
		case n.Port <= 0 || n.Port > 65535:
			return nil, fmt.Errorf("node %s: invalid port %d", n.Name, n.Port)
		case seen[n.Name]:
			return nil, fmt.Errorf("node %s: duplicate name", n.Name)
		}
		seen[n.Name] = true
	}
	return nodes, nil
}

// WatchNodes 监听节点列表文件，写入或重建后重新加载并回调
//
// 监听的是所在目录，编辑器先删后建的保存方式也能捕获。解析失败时保留旧列表，只记录日志。
// 阻塞直到 ctx 取消。
func WatchNodes(ctx context.Context, path string, fn func([]driver.NodeConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			nodes, err := LoadNodes(target)
			if err != nil {
				logger.Warn("reload nodes file", logger.String("path", target), logger.ErrorField(err))
				continue
			}
			logger.Info("nodes file reloaded", logger.String("path", target), logger.Int("count", len(nodes)))
			fn(nodes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", logger.ErrorField(err))
		}
	}
}
