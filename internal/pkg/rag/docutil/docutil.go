// Package docutil 管理上传文档的临时目录。
package docutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrTooLarge 上传文件超过大小限制。
var ErrTooLarge = errors.New("file exceeds upload size limit")

// Workspace 单次请求的上传临时目录，用完后调用 Cleanup 删除。
type Workspace struct {
	dir string
}

// NewWorkspace 在 base 下创建以 prefix 开头的唯一临时目录。
func NewWorkspace(base, prefix string) (*Workspace, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", base, err)
	}
	dir, err := os.MkdirTemp(base, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir 返回临时目录路径。
func (w *Workspace) Dir() string {
	return w.dir
}

// Save 将 r 写入临时目录并返回文件路径。
// 文件名只保留最后一段，重名时追加序号；maxBytes > 0 时超限返回 ErrTooLarge。
func (w *Workspace) Save(name string, r io.Reader, maxBytes int64) (string, error) {
	path := w.uniquePath(SafeFileName(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func (w *Workspace) uniquePath(name string) string {
	path := filepath.Join(w.dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; FileExists(path); i++ {
		path = filepath.Join(w.dir, stem+"_"+strconv.Itoa(i)+ext)
	}
	return path
}

// Cleanup 删除临时目录及其内容。
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.dir)
}

// SafeFileName 去除路径成分，防止上传文件名逃逸出临时目录。
func SafeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	switch base {
	case "", ".", "..", "/":
		return "upload"
	}
	return base
}

// FileExists 检查文件是否存在。
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
