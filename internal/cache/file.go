package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFileMode 是新建缓存文件的权限；覆盖已有文件时沿用其权限。
const DefaultFileMode fs.FileMode = 0o644

// Open 从 path 加载缓存文件。文件不存在时返回空 Store，解码失败时返回带路径的 *DecodeError。
func Open(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewStore(opts...), nil
		}
		return nil, &PersistenceError{Op: "read", Path: path, Err: err}
	}

	store, err := Load(data, opts...)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Path = path
		}
		return nil, err
	}
	return store, nil
}

// Save 将 Store 完整编码后原子地替换 path：先写临时文件并 fsync，再 rename。
// rename 之前的任何失败都会删除临时文件，原文件保持不变。
func (s *Store) Save(path string) error {
	data, rev, err := s.snapshot()
	if err != nil {
		return &PersistenceError{Op: "encode", Path: path, Err: err}
	}
	if err := WriteFileAtomic(path, data, DefaultFileMode); err != nil {
		return err
	}
	s.markSaved(rev)
	return nil
}

// WriteFileAtomic 以 temp file + rename 的方式写入 data，读者永远看不到写了一半的文件。
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	if path == "" {
		return &PersistenceError{Op: "write", Path: path, Err: errors.New("cache path required")}
	}

	dir := filepath.Dir(path)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return &PersistenceError{Op: "write", Path: path, Err: errors.New("target is a directory")}
		}
		perm = info.Mode().Perm()
	}

	tempFile, err := os.CreateTemp(dir, ".xk6-cache-*")
	if err != nil {
		return &PersistenceError{Op: "create temp", Path: path, Err: err}
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempName, perm)
	}
	if err != nil {
		os.Remove(tempName)
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
