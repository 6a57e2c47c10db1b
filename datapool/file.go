/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-03 00:00:00
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-05 14:20:00
 * @FilePath: \go-swarm\datapool\file.go
 * @Description: 文件数据池 - 单读者任务向有界通道发布行
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package datapool

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// filePool 文件数据池。消费者不触碰文件句柄：
// 唯一的读者 goroutine 拥有句柄并把行发布到有界通道，
// 背压自然传导回读者；recycle 变体在 EOF 处回绕。
type filePool struct {
	path    string
	recycle bool

	rows   chan string
	done   chan struct{}
	closed *syncx.Bool
}

// NewFilePool 创建文件数据池。行以换行分隔；once 变体单趟读完即耗尽。
func NewFilePool(path string, recycle bool, channelCapacity int) (Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open datapool file: %w", err)
	}
	if channelCapacity <= 0 {
		channelCapacity = 1024
	}

	p := &filePool{
		path:    path,
		recycle: recycle,
		rows:    make(chan string, channelCapacity),
		done:    make(chan struct{}),
		closed:  syncx.NewBool(false),
	}

	syncx.Go().
		OnPanic(func(r interface{}) {}).
		Exec(func() {
			p.readLoop(f)
		})

	return p, nil
}

// readLoop 读者任务：逐行发布，once 读尽关通道，recycle 回绕继续
func (p *filePool) readLoop(f *os.File) {
	defer f.Close()
	defer close(p.rows)

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			// 去掉行尾换行
			if line[len(line)-1] == '\n' {
				line = line[:len(line)-1]
			}
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if line != "" {
				select {
				case p.rows <- line:
				case <-p.done:
					return
				}
			}
		}
		if err == io.EOF {
			if !p.recycle {
				return
			}
			if _, serr := f.Seek(0, io.SeekStart); serr != nil {
				return
			}
			reader.Reset(f)
			continue
		}
		if err != nil {
			return
		}
	}
}

func (p *filePool) Next() (string, bool) {
	select {
	case row, ok := <-p.rows:
		return row, ok
	case <-p.done:
		return "", false
	}
}

func (p *filePool) Close() error {
	if p.closed.CAS(false, true) {
		close(p.done)
	}
	return nil
}
