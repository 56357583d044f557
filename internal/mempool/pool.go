// Package mempool реализует пул памяти для буферов вокселей.
//
// Пул рассчитан на сценарий, когда большинство выделений имеют один и тот же
// размер (размер блока фиксирован для мира): для каждого точного размера
// хранится свой список свободных блоков.
package mempool

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/dustin/go-humanize"
)

type bucket struct {
	blocks [][]byte
}

// Pool представляет собой потокобезопасный пул байтовых блоков, сгруппированных по размеру.
// Создаётся явно на уровне приложения и передаётся компонентам, которые выделяют буферы.
type Pool struct {
	mu         sync.Mutex
	buckets    map[int]*bucket
	usedBlocks int
	usedBytes  int
}

// Stats содержит снимок состояния пула
type Stats struct {
	UsedBlocks int // Выданные и ещё не возвращённые блоки
	UsedBytes  int
	FreeBlocks int // Блоки в списках свободных
	FreeBytes  int
	Buckets    int
}

// New создаёт пустой пул
func New() *Pool {
	return &Pool{
		buckets: make(map[int]*bucket),
	}
}

// Allocate возвращает блок ровно из size байт.
// Содержимое переиспользованного блока не обнуляется.
// Нехватка памяти фатальна: рантайм аварийно завершает процесс.
func (p *Pool) Allocate(size int) []byte {
	if size <= 0 {
		panic(fmt.Sprintf("mempool: недопустимый размер выделения %d", size))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.usedBlocks++
	p.usedBytes += size

	b := p.getOrCreateBucket(size)
	if n := len(b.blocks); n > 0 {
		block := b.blocks[n-1]
		b.blocks[n-1] = nil
		b.blocks = b.blocks[:n-1]
		return block
	}
	return make([]byte, size)
}

// Recycle возвращает блок в список свободных того же размера.
// Память не освобождается, а ждёт следующего Allocate того же размера.
func (p *Pool) Recycle(block []byte) {
	if len(block) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.usedBlocks == 0 {
		logging.Warn("mempool: возврат блока %d байт при нулевом счётчике выданных", len(block))
	} else {
		p.usedBlocks--
		p.usedBytes -= len(block)
	}

	b := p.getOrCreateBucket(len(block))
	b.blocks = append(b.blocks, block[:len(block):len(block)])
}

// ClearUnusedBlocks освобождает все свободные блоки.
// Вызывается при нехватке памяти или выгрузке мира.
func (p *Pool) ClearUnusedBlocks() {
	p.mu.Lock()
	defer p.mu.Unlock()

	freed := 0
	for size, b := range p.buckets {
		freed += size * len(b.blocks)
		delete(p.buckets, size)
	}
	logging.Debug("mempool: освобождено %s неиспользуемой памяти", humanize.Bytes(uint64(freed)))
}

// DebugUsedBlocks возвращает количество выданных блоков
func (p *Pool) DebugUsedBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usedBlocks
}

// Stats возвращает снимок состояния пула
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		UsedBlocks: p.usedBlocks,
		UsedBytes:  p.usedBytes,
		Buckets:    len(p.buckets),
	}
	for size, b := range p.buckets {
		s.FreeBlocks += len(b.blocks)
		s.FreeBytes += size * len(b.blocks)
	}
	return s
}

// DebugString описывает содержимое пула по размерам
func (p *Pool) DebugString() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	sizes := make([]int, 0, len(p.buckets))
	for size := range p.buckets {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)

	var sb strings.Builder
	fmt.Fprintf(&sb, "mempool: %d выданных блоков (%s)\n", p.usedBlocks, humanize.Bytes(uint64(p.usedBytes)))
	for _, size := range sizes {
		b := p.buckets[size]
		fmt.Fprintf(&sb, "  %s: %d свободных\n", humanize.Bytes(uint64(size)), len(b.blocks))
	}
	return sb.String()
}

func (p *Pool) getOrCreateBucket(size int) *bucket {
	b, ok := p.buckets[size]
	if !ok {
		b = &bucket{}
		p.buckets[size] = b
	}
	return b
}
