package service

import "sync"

// workspaceLocks 单个工作区的锁集合
//
// segmentation/edit 串行化同类产物的整轮生成；commit 只在目录替换和主图写入时独占，
// 读取方持读锁打开文件，已打开的文件描述符在后续替换后仍然有效。
type workspaceLocks struct {
	segmentation sync.Mutex
	edit         sync.Mutex
	commit       sync.RWMutex
}

func (l *workspaceLocks) round(kind ArtifactKind) *sync.Mutex {
	if kind == KindEdit {
		return &l.edit
	}
	return &l.segmentation
}

// lockTable 按工作区ID分配锁，不同工作区互不阻塞
type lockTable struct {
	m sync.Map // int64 -> *workspaceLocks
}

func (t *lockTable) get(id int64) *workspaceLocks {
	if l, ok := t.m.Load(id); ok {
		return l.(*workspaceLocks)
	}
	l, _ := t.m.LoadOrStore(id, &workspaceLocks{})
	return l.(*workspaceLocks)
}
