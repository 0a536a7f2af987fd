package core

import (
	"fmt"
	"os"
	"sync"
)

// LogRotator 按大小轮转的文件写入器，保留 maxBackups 个编号备份
// lessonlift.log -> lessonlift.log.1 -> lessonlift.log.2 ...
type LogRotator struct {
	filename    string
	maxSize     int64 // bytes
	maxBackups  int
	file        *os.File
	mu          sync.Mutex
	currentSize int64
}

// NewLogRotator 创建新的日志轮转器 (maxSize in MB)
func NewLogRotator(filename string, maxSizeMB, maxBackups int) (*LogRotator, error) {
	if maxBackups < 1 {
		maxBackups = 1
	}
	r := &LogRotator{
		filename:   filename,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *LogRotator) openFile() error {
	file, err := os.OpenFile(r.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	r.file = file
	r.currentSize = stat.Size()
	return nil
}

func (r *LogRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSize > 0 && r.currentSize > 0 && r.currentSize+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			// 轮转失败时继续写当前文件
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = r.file.Write(p)
	r.currentSize += int64(n)
	return n, err
}

func (r *LogRotator) backupName(i int) string {
	return fmt.Sprintf("%s.%d", r.filename, i)
}

func (r *LogRotator) rotate() error {
	if r.file != nil {
		r.file.Close()
	}

	// 最旧的备份直接丢弃，其余依次后移
	os.Remove(r.backupName(r.maxBackups))
	for i := r.maxBackups - 1; i >= 1; i-- {
		os.Rename(r.backupName(i), r.backupName(i+1)) // 忽略不存在的文件
	}
	if err := os.Rename(r.filename, r.backupName(1)); err != nil {
		if reopenErr := r.openFile(); reopenErr != nil {
			return reopenErr
		}
		return err
	}
	return r.openFile()
}

func (r *LogRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
